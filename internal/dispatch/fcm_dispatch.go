package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

// FCMDispatcher posts notification payloads to the FCM HTTPv1 endpoint for
// the mobile client, using a server key or oauth token.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Push(userID string, n models.Notification) error {
	body := map[string]interface{}{"message": map[string]interface{}{
		"token": userID,
		"data":  map[string]interface{}{"category": string(n.Category), "message": n.Message},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	_, err = f.Client.Do(req)
	return err
}
