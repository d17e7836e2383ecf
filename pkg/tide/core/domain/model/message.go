package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
)

// Message is the JSON body of a queue message.
type Message struct {
	When                 time.Time `json:"when"`
	Data                 *string   `json:"data"`
	WaitPeriod           int       `json:"waitPeriod"`
	RaiseException       bool      `json:"raiseException"`
	RaiseDurableFunction bool      `json:"raiseDurableFunction"`
}

// DecodeMessage parses a queue payload. Anything but a JSON object is a
// decode error, and a negative waitPeriod is clamped to zero.
func DecodeMessage(body []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, exception.NewDecodeError("message", "payload is not a JSON object", errors.New(truncate(string(trimmed), 64)))
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, exception.NewDecodeError("message", "failed to decode payload", err)
	}
	if msg.WaitPeriod < 0 {
		msg.WaitPeriod = 0
	}
	return &msg, nil
}

// DataOrEmpty returns Data, or "" when it was null or absent.
func (m *Message) DataOrEmpty() string {
	if m.Data == nil {
		return ""
	}
	return *m.Data
}

// Encode renders the message as the JSON body accepted by DecodeMessage.
func (m *Message) Encode() ([]byte, error) {
	if m.When.IsZero() {
		m.When = time.Now().UTC()
	}
	return json.Marshal(m)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
