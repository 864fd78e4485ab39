package cli

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/models"
)

type messageJSON struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Type        string `json:"type"`
	Body        string `json:"body"`
	TimestampMs int64  `json:"timestamp_ms"`
	Sent        bool   `json:"sent"`
}

type summaryJSON struct {
	Partner       string       `json:"partner"`
	Name          string       `json:"name,omitempty"`
	Avatar        string       `json:"avatar"`
	MessageCount  int          `json:"message_count"`
	LastTimestamp int64        `json:"last_timestamp_ms"`
	Pinned        bool         `json:"pinned"`
	Latest        *messageJSON `json:"latest,omitempty"`
}

func toMessageJSON(m models.Message) messageJSON {
	out := messageJSON{
		Sender:      m.Sender,
		Recipient:   m.Recipient,
		TimestampMs: m.TimestampMs,
		Sent:        m.IsSent,
	}
	if m.Content != nil {
		out.Type = string(m.Content.Type())
		out.Body = m.Content.Body()
	}
	return out
}

func toSummaryJSON(s models.ConversationSummary, self string, book conversation.AddressBook) summaryJSON {
	profile := conversation.Contact(s.PartnerAddress, s.LatestMessage, self, book)
	out := summaryJSON{
		Partner:       s.PartnerAddress,
		Name:          profile.Name,
		Avatar:        profile.Avatar,
		MessageCount:  s.MessageCount,
		LastTimestamp: s.LastTimestamp,
		Pinned:        s.Pinned,
	}
	if s.LatestMessage != nil {
		latest := toMessageJSON(*s.LatestMessage)
		out.Latest = &latest
	}
	return out
}

// contactLabel renders "avatar name" for address.
func contactLabel(address string, msg *models.Message, self string, book conversation.AddressBook) string {
	profile := conversation.Contact(address, msg, self, book)
	return profile.Avatar + " " + profile.Label(address)
}

// relativeTime renders epoch milliseconds as "3 minutes ago". Zero renders
// as a dash.
func relativeTime(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	return humanize.RelTime(time.UnixMilli(ms), now, "ago", "from now")
}

func clockTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05")
}

func summaryRows(summaries []models.ConversationSummary, self string, book conversation.AddressBook, now time.Time) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		latest := ""
		if s.LatestMessage != nil {
			latest = models.Preview(s.LatestMessage.Content)
			if s.LatestMessage.IsSent {
				latest = "you: " + latest
			}
		}
		rows = append(rows, []string{
			contactLabel(s.PartnerAddress, s.LatestMessage, self, book),
			models.ShortAddress(s.PartnerAddress),
			latest,
			strconv.Itoa(s.MessageCount),
			relativeTime(s.LastTimestamp, now),
			formatYesNo(s.Pinned),
		})
	}
	return rows
}

func messageRows(messages []models.Message, self string, book conversation.AddressBook, now time.Time) [][]string {
	rows := make([][]string, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		rows = append(rows, []string{
			relativeTime(m.TimestampMs, now),
			contactLabel(m.Sender, &m, self, book),
			models.Preview(m.Content),
		})
	}
	return rows
}
