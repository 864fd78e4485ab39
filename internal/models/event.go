package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawEvent is one message as reported by a feed, before reconciliation.
type RawEvent struct {
	// Sender and Recipient are canonical addresses.
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Timestamp is the textual form of the instant as delivered. Its unit is
	// unknown until normalized.
	Timestamp string `json:"timestamp"`

	// Content is nil when the payload was missing or of an unsupported type.
	Content Content `json:"-"`

	SenderName      string `json:"senderName,omitempty"`
	SenderAvatar    string `json:"senderAvatar,omitempty"`
	RecipientName   string `json:"recipientName,omitempty"`
	RecipientAvatar string `json:"recipientAvatar,omitempty"`

	// Feed names the source the record came from. Diagnostic only.
	Feed string `json:"feed,omitempty"`
}

// rawEventWire mirrors the feed record shape.
type rawEventWire struct {
	Sender          string          `json:"sender"`
	Recipient       string          `json:"recipient"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Content         json.RawMessage `json:"content"`
	MessageType     string          `json:"messageType"`
	SenderName      *string         `json:"senderName"`
	SenderAvatar    *string         `json:"senderAvatar"`
	RecipientName   *string         `json:"recipientName"`
	RecipientAvatar *string         `json:"recipientAvatar"`
	Feed            string          `json:"feed"`
}

// UnmarshalJSON decodes a feed record. Timestamps may be numbers or strings,
// addresses are canonicalized and the payload is decoded into Content.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var wire rawEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	ts, err := timestampText(wire.Timestamp)
	if err != nil {
		return err
	}

	*e = RawEvent{
		Sender:          NormalizeAddress(wire.Sender),
		Recipient:       NormalizeAddress(wire.Recipient),
		Timestamp:       ts,
		SenderName:      deref(wire.SenderName),
		SenderAvatar:    deref(wire.SenderAvatar),
		RecipientName:   deref(wire.RecipientName),
		RecipientAvatar: deref(wire.RecipientAvatar),
		Feed:            wire.Feed,
	}

	payload := wire.Content
	if wire.MessageType != "" && len(payload) > 0 && !hasMessageType(payload) {
		// Flat shape: messageType beside the content value.
		payload, _ = json.Marshal(map[string]json.RawMessage{
			"messageType": mustMarshal(wire.MessageType),
			"content":     wire.Content,
		})
	}
	if content, err := DecodeContent(payload); err == nil {
		e.Content = content
	}
	return nil
}

// MarshalJSON writes the record in the shape UnmarshalJSON reads.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	type alias RawEvent
	return json.Marshal(struct {
		alias
		Content json.RawMessage `json:"content"`
	}{alias: alias(e), Content: EncodeContent(e.Content)})
}

// Completeness counts the optional display hints present on the record.
func (e RawEvent) Completeness() int {
	n := 0
	for _, v := range e.optionalFields() {
		if v != "" {
			n++
		}
	}
	return n
}

// OptionalKey joins the optional fields for deterministic tie-breaking.
func (e RawEvent) OptionalKey() string {
	return strings.Join(e.optionalFields(), "\x00")
}

func (e RawEvent) optionalFields() []string {
	return []string{e.SenderName, e.SenderAvatar, e.RecipientName, e.RecipientAvatar}
}

// FillMissing copies optional fields from other where e has none.
func (e RawEvent) FillMissing(other RawEvent) RawEvent {
	if e.SenderName == "" {
		e.SenderName = other.SenderName
	}
	if e.SenderAvatar == "" {
		e.SenderAvatar = other.SenderAvatar
	}
	if e.RecipientName == "" {
		e.RecipientName = other.RecipientName
	}
	if e.RecipientAvatar == "" {
		e.RecipientAvatar = other.RecipientAvatar
	}
	if e.Content == nil {
		e.Content = other.Content
	}
	return e
}

func timestampText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode timestamp: %w", err)
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("decode timestamp: %w", err)
	}
	return n.String(), nil
}

func hasMessageType(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, ok := obj["messageType"]
	return ok
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
