package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType tags a message payload.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeGif   MessageType = "gif"
	TypeVoice MessageType = "voice"
)

// Content errors.
var (
	ErrMissingContent     = errors.New("missing content")
	ErrUnsupportedMessage = errors.New("unsupported message type")
)

// Content is a decoded message payload. The concrete type is one of Text,
// Gif or Voice.
type Content interface {
	Type() MessageType
	Body() string
	isContent()
}

// Text is a plain text message.
type Text struct{ Value string }

// Gif references an animated image by URL.
type Gif struct{ URL string }

// Voice references an audio clip by URL.
type Voice struct{ URL string }

func (Text) Type() MessageType  { return TypeText }
func (Gif) Type() MessageType   { return TypeGif }
func (Voice) Type() MessageType { return TypeVoice }

func (c Text) Body() string  { return c.Value }
func (c Gif) Body() string   { return c.URL }
func (c Voice) Body() string { return c.URL }

func (Text) isContent()  {}
func (Gif) isContent()   {}
func (Voice) isContent() {}

// NewContent builds the payload for a type tag. An empty tag is text.
func NewContent(messageType MessageType, body string) (Content, error) {
	switch MessageType(strings.ToLower(strings.TrimSpace(string(messageType)))) {
	case "", TypeText:
		return Text{Value: body}, nil
	case TypeGif:
		return Gif{URL: body}, nil
	case TypeVoice:
		return Voice{URL: body}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessage, messageType)
	}
}

// Preview renders content for one-line listings.
func Preview(c Content) string {
	switch v := c.(type) {
	case Text:
		return v.Value
	case Gif:
		return "GIF: " + v.URL
	case Voice:
		return "Voice: " + v.URL
	default:
		return ""
	}
}

// nestedBodyFields is the lookup order for a body that arrives as an object.
var nestedBodyFields = []string{"content", "text", "message", "data", "value"}

// DecodeContent decodes a payload as delivered by any feed:
//
//	"hello"                                   -> Text
//	{"messageType":"gif","content":"https://..."} -> Gif
//	{"content":{"text":"hi"}}                 -> Text "hi"
func DecodeContent(raw json.RawMessage) (Content, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrMissingContent
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil, ErrMissingContent
		}
		return Text{Value: asString}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if len(envelope) == 0 {
		return nil, ErrMissingContent
	}

	var messageType string
	if t, ok := envelope["messageType"]; ok {
		_ = json.Unmarshal(t, &messageType)
	} else if t, ok := envelope["message_type"]; ok {
		_ = json.Unmarshal(t, &messageType)
	}

	body, ok := envelope["content"]
	if !ok {
		body = raw
	} else if isNull(body) {
		return nil, ErrMissingContent
	}
	return NewContent(MessageType(messageType), resolveBody(body))
}

// resolveBody flattens a body value to a string. Objects are searched for
// the first known field and otherwise serialized whole.
func resolveBody(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, field := range nestedBodyFields {
			if v, ok := obj[field]; ok && !isNull(v) {
				return resolveBody(v)
			}
		}
		return compact(raw)
	}
	return compact(raw)
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return string(data)
}

// EncodeContent is the inverse of DecodeContent for the envelope shape.
func EncodeContent(c Content) json.RawMessage {
	if c == nil {
		return json.RawMessage("null")
	}
	data, _ := json.Marshal(struct {
		MessageType MessageType `json:"messageType"`
		Content     string      `json:"content"`
	}{MessageType: c.Type(), Content: c.Body()})
	return data
}
