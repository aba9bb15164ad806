package ws

import "time"

type ConnInfo struct {
	ConnID         string
	ConversationID int64
	UserID         int64
	DeviceID       string
	IP             string
	RequestID      string
	TraceID        string
	ConnectedAt    time.Time
}

func (i ConnInfo) payload(event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "conversation",
			"resource_id": i.ConversationID,
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
}
