package hub

import (
	"encoding/json"
	"strings"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// Message types of the room protocol.
const (
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"

	TypeAuthenticated     = "authenticated"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
	TypeMeasurementUpdate = "measurement-update"
	TypeAlertNew          = "alert-new"
	TypeStatusChange      = "status-change"
	TypeError             = "error"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type     string          `json:"type"`
	EntityID string          `json:"entityId,omitempty"`
	Token    string          `json:"token,omitempty"`
	Success  *bool           `json:"success,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// EventType maps an event kind to its client message type. Raw events have none.
func EventType(k domain.Kind) (string, bool) {
	switch k {
	case domain.KindMeasurement:
		return TypeMeasurementUpdate, true
	case domain.KindAlert:
		return TypeAlertNew, true
	case domain.KindStatus:
		return TypeStatusChange, true
	}
	return "", false
}

// EncodeEvent returns the client frame for ev. ok is false for kinds that are
// not sent to clients.
func EncodeEvent(ev domain.Event) (msg []byte, ok bool, err error) {
	typ, ok := EventType(ev.Kind)
	if !ok {
		return nil, false, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, false, err
	}
	msg, err = json.Marshal(Envelope{Type: typ, EntityID: ev.EntityID, Data: data})
	return msg, err == nil, err
}

func encode(env Envelope) []byte {
	b, _ := json.Marshal(env)
	return b
}

func authenticated(success bool, message string) []byte {
	return encode(Envelope{Type: TypeAuthenticated, Success: &success, Message: message})
}

func errorFrame(message string) []byte {
	return encode(Envelope{Type: TypeError, Message: message})
}

// validEntityID reports whether id is usable as a room name and topic level.
func validEntityID(id string) bool {
	return id != "" && len(id) <= 128 && !strings.ContainsAny(id, "/+#")
}
