package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSIdentity describes who owns a realtime connection.
type WSIdentity struct {
	UserID   string
	DeviceID string
	IP       string
}

// WSEvent builds the envelope for a realtime connection lifecycle event.
func WSEvent(event, connID string, identity WSIdentity, connectedAt time.Time, reason string) EventEnvelope {
	var durationMS int64
	if !connectedAt.IsZero() {
		durationMS = time.Since(connectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "gateway",
				"event":       event,
				"conn_id":     connID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   identity.UserID,
				"device_id": identity.DeviceID,
				"ip":        identity.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
