// Package v1 defines the order event contract v1.
//
// Every notification transport (broker sinks and the websocket feed) carries these envelopes,
// so consumers outside this repository can decode them without importing server code.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeOrderCreated announces an admitted order (server -> owner, brokers).
	TypeOrderCreated = "order_created"
	// TypeOrderStatusChanged announces a lifecycle transition (server -> owner, brokers).
	TypeOrderStatusChanged = "order_status_changed"
	// TypeVerificationCode carries an email verification code to the mail worker.
	// It is never fanned out to websocket clients.
	TypeVerificationCode = "verification_code"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OrderID string          `json:"order_id,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	if e.TS.IsZero() {
		return errors.New("missing field: ts")
	}

	switch e.Type {
	case TypeOrderCreated, TypeOrderStatusChanged:
		if strings.TrimSpace(e.OrderID) == "" {
			return errors.New("missing field: order_id")
		}
		return nil
	case TypeVerificationCode, TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New builds a validated envelope with payload marshalled to JSON.
func New(typ, id, orderID, ownerID string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		OrderID: orderID,
		OwnerID: ownerID,
		TS:      ts.UTC(),
		Payload: raw,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ---- Payloads ----

// LinePayload is one ordered line.
type LinePayload struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCreatedPayload is published once per admitted order.
type OrderCreatedPayload struct {
	OrderID     string        `json:"order_id"`
	OwnerID     string        `json:"owner_id"`
	Status      string        `json:"status"`
	ContactInfo string        `json:"contact_info"`
	Lines       []LinePayload `json:"lines"`
	CreatedAt   time.Time     `json:"created_at"`
}

// OrderStatusChangedPayload is published after every committed transition.
type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	ChangedAt time.Time `json:"changed_at"`
}

// VerificationCodePayload carries a plain verification code to the mail worker.
type VerificationCodePayload struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
