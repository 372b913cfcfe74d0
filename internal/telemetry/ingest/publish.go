package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/apperr"
)

// ControlKind is an outbound device-control topic suffix.
type ControlKind string

const (
	ControlCommand ControlKind = "command"
	ControlConfig  ControlKind = "config"
	ControlOTA     ControlKind = "ota"
)

// controlQoS is at-least-once for every control message.
const controlQoS = 1

// ControlTopic returns <root>/<entityID>/<kind>.
func (in *Ingestor) ControlTopic(entityID string, kind ControlKind) string {
	return in.cfg.TopicRoot + "/" + entityID + "/" + string(kind)
}

// ValidEntityID reports whether id can be used as a single topic level.
func ValidEntityID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#")
}

// PublishControl marshals body as JSON and publishes it to the entity's
// control topic at QoS 1 on the ingestor's live connection. It returns a
// TransportUnavailable error when the broker is not connected.
func (in *Ingestor) PublishControl(ctx context.Context, entityID string, kind ControlKind, body any) error {
	if !ValidEntityID(entityID) {
		return apperr.New(apperr.Malformed, "invalid entity id")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.Malformed, "invalid control payload", err)
	}

	in.mu.RLock()
	conn := in.conn
	in.mu.RUnlock()
	if conn == nil || in.State() != StateConnected {
		in.metrics.publish(string(kind), "unavailable")
		return apperr.New(apperr.TransportUnavailable, "broker not connected")
	}

	topic := in.ControlTopic(entityID, kind)
	if err := conn.Publish(ctx, topic, payload, controlQoS, false); err != nil {
		in.metrics.publish(string(kind), "error")
		in.log.Error("ingest: control publish failed", zap.String("topic", topic), zap.Error(err))
		return apperr.Wrap(apperr.TransportUnavailable, "publish failed", err)
	}
	in.metrics.publish(string(kind), "ok")
	in.log.Info("ingest: control published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// ParseControlKind converts s to a ControlKind.
func ParseControlKind(s string) (ControlKind, error) {
	switch k := ControlKind(s); k {
	case ControlCommand, ControlConfig, ControlOTA:
		return k, nil
	}
	return "", fmt.Errorf("ingest: unknown control kind %q", s)
}
