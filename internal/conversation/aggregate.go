// Package conversation groups reconciled events into per-counterpart
// summaries.
package conversation

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/timestamp"
)

// Drop reasons logged for events left out of a summary.
const (
	DropUnsupportedContent = "unsupported-content"
	DropNoCounterpart      = "no-counterpart"
	DropBadTimestamp       = "bad-timestamp"
)

// Aggregator builds summaries and logs every dropped event.
type Aggregator struct {
	logger zerolog.Logger
}

// NewAggregator returns an aggregator that logs through logger.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate uses a component logger from the global logger.
func Aggregate(events []models.RawEvent, self string, pinned []string) []models.ConversationSummary {
	return NewAggregator(logging.Component("conversation")).Aggregate(events, self, pinned)
}

type messageKey struct {
	content     string
	timestampMs int64
	isSent      bool
}

// Aggregate recomputes every summary from events. Pinned addresses come
// first in pinned order, present even without messages; the rest follow by
// latest activity.
func (a *Aggregator) Aggregate(events []models.RawEvent, self string, pinned []string) []models.ConversationSummary {
	self = models.NormalizeAddress(self)

	groups := make(map[string]map[messageKey]models.Message)
	for _, e := range events {
		if e.Content == nil {
			a.drop(e, DropUnsupportedContent)
			continue
		}
		ms, ok := timestamp.Normalize(e.Timestamp)
		if !ok {
			a.drop(e, DropBadTimestamp)
			continue
		}

		sender := models.NormalizeAddress(e.Sender)
		recipient := models.NormalizeAddress(e.Recipient)
		partner, isSent := Counterpart(sender, recipient, self)
		if partner == "" {
			a.drop(e, DropNoCounterpart)
			continue
		}

		msg := models.MessageFromEvent(e, ms, isSent)
		msg.Sender, msg.Recipient = sender, recipient
		key := messageKey{content: contentKey(msg.Content), timestampMs: ms, isSent: isSent}

		group, ok := groups[partner]
		if !ok {
			group = make(map[messageKey]models.Message)
			groups[partner] = group
		}
		if existing, ok := group[key]; ok {
			msg = preferMessage(existing, msg)
		}
		group[key] = msg
	}

	summaries := make(map[string]models.ConversationSummary, len(groups))
	for partner, group := range groups {
		summaries[partner] = summarize(partner, group)
	}

	out := make([]models.ConversationSummary, 0, len(summaries)+len(pinned))
	placed := make(map[string]struct{}, len(pinned))
	for _, address := range models.NormalizeAddresses(pinned) {
		summary, ok := summaries[address]
		if !ok {
			summary = models.ConversationSummary{PartnerAddress: address}
		}
		summary.Pinned = true
		out = append(out, summary)
		placed[address] = struct{}{}
	}

	rest := make([]models.ConversationSummary, 0, len(summaries))
	for address, summary := range summaries {
		if _, ok := placed[address]; ok {
			continue
		}
		rest = append(rest, summary)
	}
	slices.SortFunc(rest, func(x, y models.ConversationSummary) int {
		if x.LastTimestamp != y.LastTimestamp {
			if x.LastTimestamp > y.LastTimestamp {
				return -1
			}
			return 1
		}
		return strings.Compare(x.PartnerAddress, y.PartnerAddress)
	})
	return append(out, rest...)
}

// Counterpart returns the other party of a message involving self, and
// whether self sent it. Addresses must be normalized. partner is empty when
// self took no part.
func Counterpart(sender, recipient, self string) (partner string, isSent bool) {
	switch {
	case self != "" && sender == self:
		return recipient, true
	case self != "" && recipient == self:
		return sender, false
	}
	return "", false
}

func (a *Aggregator) drop(e models.RawEvent, reason string) {
	a.logger.Debug().
		Str("reason", reason).
		Str("sender", e.Sender).
		Str("recipient", e.Recipient).
		Str("timestamp", e.Timestamp).
		Str("feed", e.Feed).
		Msg("event dropped from aggregation")
}

func summarize(partner string, group map[messageKey]models.Message) models.ConversationSummary {
	messages := make([]models.Message, 0, len(group))
	for _, msg := range group {
		messages = append(messages, msg)
	}
	slices.SortFunc(messages, compareMessages)

	summary := models.ConversationSummary{
		PartnerAddress: partner,
		MessageCount:   len(messages),
		AllMessages:    messages,
	}
	if len(messages) > 0 {
		latest := messages[0]
		summary.LatestMessage = &latest
		summary.LastTimestamp = latest.TimestampMs
	}
	return summary
}

// compareMessages orders newest first, then by content, then received
// before sent.
func compareMessages(x, y models.Message) int {
	if x.TimestampMs != y.TimestampMs {
		if x.TimestampMs > y.TimestampMs {
			return -1
		}
		return 1
	}
	if c := strings.Compare(contentKey(x.Content), contentKey(y.Content)); c != 0 {
		return c
	}
	switch {
	case x.IsSent == y.IsSent:
		return 0
	case !x.IsSent:
		return -1
	default:
		return 1
	}
}

// preferMessage keeps the more complete record and fills its gaps from the
// other. Equal completeness falls back to the lower hint key.
func preferMessage(a, b models.Message) models.Message {
	if b.Completeness() > a.Completeness() ||
		(b.Completeness() == a.Completeness() && hintKey(b) < hintKey(a)) {
		a, b = b, a
	}
	if a.SenderName == "" {
		a.SenderName = b.SenderName
	}
	if a.SenderAvatar == "" {
		a.SenderAvatar = b.SenderAvatar
	}
	if a.RecipientName == "" {
		a.RecipientName = b.RecipientName
	}
	if a.RecipientAvatar == "" {
		a.RecipientAvatar = b.RecipientAvatar
	}
	return a
}

func hintKey(m models.Message) string {
	return strings.Join([]string{m.SenderName, m.SenderAvatar, m.RecipientName, m.RecipientAvatar}, "\x00")
}

func contentKey(c models.Content) string {
	if c == nil {
		return ""
	}
	return string(c.Type()) + ":" + c.Body()
}
