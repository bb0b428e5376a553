package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Control frame types exchanged with the server. They are not events and are
// never routed to consumers.
const (
	ControlSubscribe         = "subscribe"
	ControlUnsubscribe       = "unsubscribe"
	ControlSubscribed        = "subscribed"
	ControlSubscriptionError = "subscription_error"
	ControlPong              = "pong"
	ControlProfileRequest    = "profile:request_update"
)

// ErrMissingType is returned when an inbound frame has no type field.
var ErrMissingType = errors.New("frame has no type")

// Envelope is an inbound frame as received on the wire. Name is the raw type
// string; it may or may not be a known event type.
type Envelope struct {
	Name       string
	Payload    json.RawMessage
	Timestamp  time.Time
	ReceivedAt time.Time
}

type wireEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParseEnvelope decodes an inbound frame. The timestamp is optional and may be
// an RFC 3339 string or unix milliseconds; when absent it is receivedAt.
func ParseEnvelope(data []byte, receivedAt time.Time) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if w.Type == "" {
		return Envelope{}, ErrMissingType
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode frame %q timestamp: %w", w.Type, err)
	}
	if ts.IsZero() {
		ts = receivedAt
	}

	return Envelope{
		Name:       w.Type,
		Payload:    w.Payload,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Event is a routed envelope whose type is a known member of the enumeration.
type Event struct {
	Type      Type
	Payload   json.RawMessage
	Timestamp time.Time
}

// FromEnvelope classifies env. It reports false for unknown types.
func FromEnvelope(env Envelope) (Event, bool) {
	t, ok := ParseType(env.Name)
	if !ok {
		return Event{}, false
	}
	return Event{Type: t, Payload: env.Payload, Timestamp: env.Timestamp}, true
}

// New builds an event with a JSON-encoded payload. It is used by tests and
// the development feed.
func New(t Type, payload any, ts time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw, Timestamp: ts}, nil
}

// Category is shorthand for e.Type.Category().
func (e Event) Category() Category { return e.Type.Category() }

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Fields decodes the payload as a generic object. Non-object payloads yield
// an empty map.
func (e Event) Fields() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

type identity struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId"`
	DropID     string `json:"dropId"`
	OrderID    string `json:"orderId"`
	CategoryID string `json:"categoryId"`
}

// EntityID returns the primary entity id carried by the payload, preferring
// the type-specific field over a generic "id".
func (e Event) EntityID() string {
	var id identity
	if err := json.Unmarshal(e.Payload, &id); err != nil {
		return ""
	}
	var specific string
	switch e.Category() {
	case Product, Inventory:
		specific = id.ProductID
	case Drop:
		specific = id.DropID
	case Order:
		specific = id.OrderID
	case CategoryEvents:
		specific = id.CategoryID
	}
	if specific != "" {
		return specific
	}
	return id.ID
}

// Identity is a best-effort key for the logical event, used to suppress
// redelivered events. It is empty when the payload carries no entity id, so
// unrelated id-less events never collapse into one.
func (e Event) Identity() string {
	id := e.EntityID()
	if id == "" {
		return ""
	}
	return e.Type.String() + "/" + id
}
