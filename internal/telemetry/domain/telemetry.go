package domain

import (
	"encoding/json"
	"time"
)

// Kind classifies an event by the topic it arrived on.
type Kind string

const (
	KindMeasurement Kind = "measurement"
	KindAlert       Kind = "alert"
	KindStatus      Kind = "status"
	KindRaw         Kind = "raw"
)

// Kinds lists every inbound kind in subscription order.
var Kinds = []Kind{KindMeasurement, KindAlert, KindStatus, KindRaw}

// Valid reports whether k is one of the inbound kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMeasurement, KindAlert, KindStatus, KindRaw:
		return true
	}
	return false
}

// Event is one decoded telemetry message for an entity. Payload is a JSON
// object; consumers must treat it as read-only.
type Event struct {
	ID         int64           `json:"-"`
	EntityID   string          `json:"entityId"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Clone returns a copy of e that shares no memory with it.
func (e Event) Clone() Event {
	if e.Payload != nil {
		e.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return e
}
