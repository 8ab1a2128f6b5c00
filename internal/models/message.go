package models

import (
	"fmt"
	"time"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of a document transcript.
type Message struct {
	ID   int64  `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NextMessageID returns a time-derived ID strictly greater than every ID in transcript.
func NextMessageID(transcript []Message, now time.Time) int64 {
	id := now.UnixMilli()
	if n := len(transcript); n > 0 && transcript[n-1].ID >= id {
		id = transcript[n-1].ID + 1
	}
	return id
}

// ValidateTranscript checks roles and that IDs strictly increase.
func ValidateTranscript(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", m.ID, m.Role)
		}
		if i > 0 && m.ID <= msgs[i-1].ID {
			return fmt.Errorf("message %d: id not greater than previous %d", m.ID, msgs[i-1].ID)
		}
	}
	return nil
}

// CloneMessages returns a copy of msgs; nil stays nil and empty stays empty.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
