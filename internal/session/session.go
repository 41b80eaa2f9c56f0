// Package session implements server-side sessions keyed by an opaque
// cookie id, with sliding and absolute timeouts and the email-code MFA
// state machine layered on the session payload.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/backweb/backweb/internal/models"
)

// Session wraps one persisted row with a decoded payload map. All
// mutation goes through the payload helpers; Save serializes it back.
type Session struct {
	model *models.Session
	data  map[string]any
	// Dirty marks payload changes not yet persisted.
	dirty bool
}

func wrap(model *models.Session) (*Session, error) {
	data := map[string]any{}
	if len(model.Data) > 0 {
		if errDecode := json.Unmarshal(model.Data, &data); errDecode != nil {
			return nil, fmt.Errorf("session: decode payload: %w", errDecode)
		}
	}
	return &Session{model: model, data: data}, nil
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.model.ID }

// Username returns the authenticated username, empty while anonymous.
func (s *Session) Username() string { return s.model.Username }

// Authenticated reports whether a login succeeded on this session.
func (s *Session) Authenticated() bool { return s.model.Username != "" }

// Persistent reports the "remember me" flag.
func (s *Session) Persistent() bool { return s.model.Persistent }

// StartTime anchors the absolute timeout.
func (s *Session) StartTime() time.Time { return s.model.StartTime }

// Get returns one payload value.
func (s *Session) Get(key string) (any, bool) {
	value, ok := s.data[key]
	return value, ok
}

// GetString returns one payload value as a string.
func (s *Session) GetString(key string) string {
	value, _ := s.data[key].(string)
	return value
}

// GetInt returns one payload value as an int. JSON numbers decode as
// float64, so both forms are accepted.
func (s *Session) GetInt(key string) int {
	switch v := s.data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// GetTime returns one payload value stored as epoch seconds.
func (s *Session) GetTime(key string) time.Time {
	epoch := s.data[key]
	switch v := epoch.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}

// GetStrings returns one payload value as a string slice. Values read
// back before a save/load round trip are still []string; decoded JSON
// payloads carry []any.
func (s *Session) GetStrings(key string) []string {
	switch raw := s.data[key].(type) {
	case []string:
		return raw
	case []any:
		values := make([]string, 0, len(raw))
		for _, item := range raw {
			if text, isString := item.(string); isString {
				values = append(values, text)
			}
		}
		return values
	}
	return nil
}

// Set stores one payload value.
func (s *Session) Set(key string, value any) {
	s.data[key] = value
	s.dirty = true
}

// SetTime stores a timestamp as epoch seconds.
func (s *Session) SetTime(key string, value time.Time) {
	s.Set(key, value.Unix())
}

// Delete removes one payload value.
func (s *Session) Delete(key string) {
	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.dirty = true
	}
}

// PopRedirectURL consumes the pending redirect target, defaulting to /.
func (s *Session) PopRedirectURL() string {
	target := s.GetString(models.SessionKeyPendingRedirectURL)
	s.Delete(models.SessionKeyPendingRedirectURL)
	if target == "" {
		target = "/"
	}
	return target
}

// encodePayload serializes the payload back onto the model.
func (s *Session) encodePayload() error {
	encoded, errEncode := json.Marshal(s.data)
	if errEncode != nil {
		return fmt.Errorf("session: encode payload: %w", errEncode)
	}
	s.model.Data = encoded
	return nil
}
