package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-negotiation/internal/models"
)

// DefaultCap matches the feed size the client renders.
const DefaultCap = 10

// Pusher delivers a notification to connected clients. Delivery is
// best-effort; the feed itself is the source of truth.
type Pusher interface {
	Broadcast(n models.Notification)
}

// Sink is an append-only, newest-first notification feed with a hard cap.
// Entries beyond the cap are dropped silently, oldest first.
type Sink struct {
	mu    sync.Mutex
	items []models.Notification
	cap   int
	push  Pusher
}

func NewSink(capacity int, push Pusher) *Sink {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Sink{cap: capacity, push: push}
}

// Emit prepends a notification and trims the feed to the cap.
func (s *Sink) Emit(message string, category models.NotificationCategory) models.Notification {
	n := models.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Category:  category,
		Timestamp: time.Now(),
	}
	s.mu.Lock()
	s.items = append([]models.Notification{n}, s.items...)
	if len(s.items) > s.cap {
		s.items = s.items[:s.cap]
	}
	s.mu.Unlock()
	if s.push != nil {
		s.push.Broadcast(n)
	}
	return n
}

// MarkRead flips the read flag. Unknown ids are ignored.
func (s *Sink) MarkRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return
		}
	}
}

// Clear empties the feed.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Items returns a copy of the feed, newest first.
func (s *Sink) Items() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.items))
	copy(out, s.items)
	return out
}
