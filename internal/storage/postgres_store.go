package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-negotiation/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(rec *models.RideRecord) error {
	_, err := p.db.Exec(`INSERT INTO ride_history(ride_id, rider_id, driver_id, pickup, destination, price, outcome, matched_at, ended_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.RideID, rec.RiderID, rec.DriverID, rec.Pickup, rec.Destination, rec.Price, string(rec.Outcome), rec.MatchedAt, rec.EndedAt)
	return err
}

func (p *PostgresStore) ListByActor(actorID string, limit int) ([]models.RideRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(`SELECT ride_id, rider_id, driver_id, pickup, destination, price, outcome, matched_at, ended_at FROM ride_history WHERE rider_id=$1 OR driver_id=$1 ORDER BY ended_at DESC LIMIT $2`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideRecord
	for rows.Next() {
		var rec models.RideRecord
		var outcome string
		if err := rows.Scan(&rec.RideID, &rec.RiderID, &rec.DriverID, &rec.Pickup, &rec.Destination, &rec.Price, &outcome, &rec.MatchedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		rec.Outcome = models.RidePhase(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
