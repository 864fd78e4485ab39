package models

// Message is a reconciled event as seen from the self account.
type Message struct {
	Sender      string
	Recipient   string
	Content     Content
	TimestampMs int64

	// IsSent is true when self is the sender.
	IsSent bool

	SenderName      string
	SenderAvatar    string
	RecipientName   string
	RecipientAvatar string
}

// MessageFromEvent projects a normalized event onto a message.
func MessageFromEvent(e RawEvent, timestampMs int64, isSent bool) Message {
	return Message{
		Sender:          e.Sender,
		Recipient:       e.Recipient,
		Content:         e.Content,
		TimestampMs:     timestampMs,
		IsSent:          isSent,
		SenderName:      e.SenderName,
		SenderAvatar:    e.SenderAvatar,
		RecipientName:   e.RecipientName,
		RecipientAvatar: e.RecipientAvatar,
	}
}

// Completeness counts the display hints present on the message.
func (m Message) Completeness() int {
	n := 0
	for _, v := range []string{m.SenderName, m.SenderAvatar, m.RecipientName, m.RecipientAvatar} {
		if v != "" {
			n++
		}
	}
	return n
}

// ConversationSummary is the derived view of one counterpart.
type ConversationSummary struct {
	PartnerAddress string

	// LatestMessage is nil for an empty pinned placeholder.
	LatestMessage *Message

	MessageCount int

	// AllMessages is reverse-chronological and unique by
	// (content, timestamp, direction).
	AllMessages []Message

	LastTimestamp int64
	Pinned        bool
}
