package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := New(TypeOrderStatusChanged, "evt-1", "ord-1", "user-1", ts, OrderStatusChangedPayload{
		OrderID: "ord-1",
		From:    "pending",
		To:      "shipping",
		Message: "Order shipped",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.V != Version || !env.TS.Equal(ts) || env.TS.Location() != time.UTC {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var got OrderStatusChangedPayload
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.To != "shipping" || got.From != "pending" {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeOrderCreated, ID: "e", OrderID: "o", TS: ts}, ok: true},
		{name: "missing order", env: Envelope{V: Version, Type: TypeOrderCreated, ID: "e", TS: ts}},
		{name: "bad version", env: Envelope{V: "v0", Type: TypeError, ID: "e", TS: ts}},
		{name: "unknown type", env: Envelope{V: Version, Type: "chat", ID: "e", TS: ts}},
		{name: "missing type", env: Envelope{V: Version, ID: "e", TS: ts}},
		{name: "missing ts", env: Envelope{V: Version, Type: TypeError, ID: "e"}},
		{name: "code", env: Envelope{V: Version, Type: TypeVerificationCode, ID: "e", TS: ts}, ok: true},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
