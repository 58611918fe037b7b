package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes for NATS topics.
const (
	DefaultFrontendPrefix = "camback.fe"
	SubjectEventsPrefix   = "camback.events"
)

// Session states carried by StateMessage.
const (
	StateConnected = "connected"
	StateClosed    = "closed"
)

// SubjectRequest returns the request ring subject of a frontend.
func SubjectRequest(prefix string, domID, devID uint32) string {
	return fmt.Sprintf("%s.%d.%d.req", prefix, domID, devID)
}

// SubjectEvent returns the event ring subject of a frontend.
func SubjectEvent(prefix string, domID, devID uint32) string {
	return fmt.Sprintf("%s.%d.%d.evt", prefix, domID, devID)
}

// SubjectState returns the session state subject of a frontend.
func SubjectState(prefix string, domID, devID uint32) string {
	return fmt.Sprintf("%s.%d.%d.state", prefix, domID, devID)
}

// SubjectBusEvent returns the subject a bus event kind is republished on.
func SubjectBusEvent(kind string) string {
	return SubjectEventsPrefix + "." + kind
}

// StateMessage reports a session being bound to or unbound from a frontend.
type StateMessage struct {
	DomID     uint32 `json:"dom_id"`
	DevID     uint32 `json:"dev_id"`
	UniqueID  string `json:"unique_id"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"` // connected, closed
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
