package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/repairhub/intake/internal/services/offline/domain"
)

// CreatedTicket is the server's identity for a newly created ticket.
type CreatedTicket struct {
	TicketID     string `json:"ticketId"`
	FriendlyCode string `json:"friendlyCode"`
}

type errorBody struct {
	Error string `json:"error"`
}

// CreateTicket creates a repair ticket on the server. clientID is sent as
// the Idempotency-Key header so that a retried request after a lost
// response resolves to the already-created ticket instead of a duplicate.
func (c *Client) CreateTicket(ctx context.Context, clientID string, payload domain.TicketPayload) (CreatedTicket, error) {
	if clientID == "" {
		return CreatedTicket{}, fmt.Errorf("client id is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CreatedTicket{}, fmt.Errorf("marshal ticket payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/tickets"), bytes.NewReader(body))
	if err != nil {
		return CreatedTicket{}, fmt.Errorf("build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", clientID)
	c.authorize(req)

	res, err := c.httpc.Do(req)
	if err != nil {
		return CreatedTicket{}, networkError("create ticket", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return CreatedTicket{}, classify(res.StatusCode, readErrorMessage(res.Body))
	}

	var created CreatedTicket
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return CreatedTicket{}, fmt.Errorf("decode ticket response: %w", err)
	}
	if created.TicketID == "" {
		return CreatedTicket{}, fmt.Errorf("ticket response missing ticket id")
	}
	return created, nil
}

func readErrorMessage(r io.Reader) string {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
