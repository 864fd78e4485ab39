package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/gmic/internal/models"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name    string
		content models.Content
		wantErr error
	}{
		{"plain text", models.Text{Value: "gm!"}, nil},
		{"limit exactly", models.Text{Value: strings.Repeat("a", MaxTextLength)}, nil},
		{"multibyte counts runes", models.Text{Value: strings.Repeat("🌅", MaxTextLength)}, nil},
		{"too long", models.Text{Value: strings.Repeat("a", MaxTextLength+1)}, ErrTooLong},
		{"blank", models.Text{Value: "  "}, ErrEmpty},
		{"script", models.Text{Value: "hi <script>alert(1)</script>"}, ErrUnsafe},
		{"iframe", models.Text{Value: "<iframe src=x>"}, ErrUnsafe},
		{"js url", models.Text{Value: "click javascript:void(0)"}, ErrUnsafe},
		{"blocked word any case", models.Text{Value: "Total SCAM"}, ErrBlockedWord},
		{"gif", models.Gif{URL: "https://media.example/gm.gif"}, nil},
		{"gif not http", models.Gif{URL: "ftp://media.example/gm.gif"}, ErrMediaURL},
		{"voice script", models.Voice{URL: "https://x/javascript:alert"}, ErrUnsafe},
		{"voice too long", models.Voice{URL: "https://" + strings.Repeat("a", MaxMediaURL)}, ErrTooLong},
		{"nil", nil, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Message(tt.content)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNearLimit(t *testing.T) {
	require.False(t, NearLimit(strings.Repeat("a", WarningThreshold)))
	require.True(t, NearLimit(strings.Repeat("a", WarningThreshold+1)))
	require.Equal(t, 0, Remaining(strings.Repeat("a", MaxTextLength)))
	require.Equal(t, -2, Remaining(strings.Repeat("a", MaxTextLength+2)))
}
