// Package validate checks outgoing message content before it is sent.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tOgg1/gmic/internal/models"
)

// Limits.
const (
	MaxTextLength    = 280
	WarningThreshold = 250
	MaxMediaURL      = 500
)

var (
	ErrEmpty       = errors.New("message is empty")
	ErrTooLong     = errors.New("message is too long")
	ErrUnsafe      = errors.New("message contains markup or script")
	ErrBlockedWord = errors.New("message contains a blocked word")
	ErrMediaURL    = errors.New("media must be an http or https url")
	ErrUnsupported = errors.New("unsupported message type")
)

var unsafeMarkers = []string{"<script", "</script>", "<iframe", "javascript:"}

// BlockedWords are rejected anywhere in text, case-insensitively.
var BlockedWords = []string{"spam", "abuse", "hate", "violence", "illegal", "scam", "fraud"}

// Message validates content by type.
func Message(content models.Content) error {
	switch c := content.(type) {
	case models.Text:
		return Text(c.Value)
	case models.Gif:
		return mediaURL(c.URL)
	case models.Voice:
		return mediaURL(c.URL)
	case nil:
		return ErrEmpty
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, content.Type())
	}
}

// Text validates a text body. Length counts characters, not bytes.
func Text(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmpty
	}
	if n := utf8.RuneCountInString(body); n > MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, MaxTextLength)
	}
	if marker, ok := containsAny(body, unsafeMarkers); ok {
		return fmt.Errorf("%w: %q", ErrUnsafe, marker)
	}
	if word, ok := containsAny(strings.ToLower(body), BlockedWords); ok {
		return fmt.Errorf("%w: %q", ErrBlockedWord, word)
	}
	return nil
}

// NearLimit reports whether body is past the warning threshold.
func NearLimit(body string) bool {
	return utf8.RuneCountInString(body) > WarningThreshold
}

// Remaining returns how many characters body may still grow by. It is
// negative once the limit is exceeded.
func Remaining(body string) int {
	return MaxTextLength - utf8.RuneCountInString(body)
}

func mediaURL(url string) error {
	if url == "" {
		return ErrEmpty
	}
	if len(url) > MaxMediaURL {
		return fmt.Errorf("%w: url of %d bytes, limit %d", ErrTooLong, len(url), MaxMediaURL)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ErrMediaURL
	}
	if marker, ok := containsAny(url, unsafeMarkers); ok {
		return fmt.Errorf("%w: %q", ErrUnsafe, marker)
	}
	return nil
}

func containsAny(s string, needles []string) (string, bool) {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return needle, true
		}
	}
	return "", false
}
