package storage

import (
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

func record(rideID, riderID, driverID string, endedAt time.Time) *models.RideRecord {
	return &models.RideRecord{
		RideID:      rideID,
		RiderID:     riderID,
		DriverID:    driverID,
		Pickup:      "Home",
		Destination: "Work",
		Price:       11,
		Outcome:     models.PhaseCompleted,
		MatchedAt:   endedAt.Add(-10 * time.Minute),
		EndedAt:     endedAt,
	}
}

func TestListByActorNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	m.SaveRide(record("r1", "alice", "bob", now.Add(-2*time.Hour)))
	m.SaveRide(record("r2", "alice", "carol", now.Add(-1*time.Hour)))
	m.SaveRide(record("r3", "dave", "bob", now))

	recs, err := m.ListByActor("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].RideID != "r2" || recs[1].RideID != "r1" {
		t.Fatalf("expected [r2 r1], got %+v", recs)
	}

	// drivers see their rides too
	recs, _ = m.ListByActor("bob", 10)
	if len(recs) != 2 || recs[0].RideID != "r3" {
		t.Fatalf("expected bob's rides newest first, got %+v", recs)
	}
}

func TestListByActorLimit(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 5; i++ {
		m.SaveRide(record(string(rune('a'+i)), "alice", "bob", time.Now()))
	}
	recs, _ := m.ListByActor("alice", 3)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}

func TestListByActorUnknownActorEmpty(t *testing.T) {
	m := NewMemoryStore()
	recs, err := m.ListByActor("ghost", 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", recs, err)
	}
}
