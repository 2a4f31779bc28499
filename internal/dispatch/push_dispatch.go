package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

// PushDispatcher delivers notifications over an open WebSocket session
// when one exists, falling back to an HTTP push endpoint otherwise.
type PushDispatcher struct {
	Endpoint string // provider HTTP endpoint for offline clients
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Push(userID string, n models.Notification) error {
	if p.WS != nil {
		if err := p.WS.Push(userID, n); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	b, _ := json.Marshal(map[string]interface{}{"user_id": userID, "notification": n})
	_, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return err
}

// Broadcast fans a notification out to every connected session and mirrors
// it to the push endpoint so offline clients catch up.
func (p *PushDispatcher) Broadcast(n models.Notification) {
	if p.WS != nil {
		p.WS.Broadcast(n)
	}
	if p.Endpoint == "" {
		return
	}
	b, _ := json.Marshal(map[string]interface{}{"notification": n})
	_, _ = p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
}
