// Package feed defines the event sources a session reconciles and the
// change notifications that prompt it to re-query them.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tOgg1/gmic/internal/models"
)

// Kind names one feed.
type Kind string

const (
	SentByMe          Kind = "sent-by-me"
	SentByPartner     Kind = "sent-by-partner"
	ReceivedByMe      Kind = "received-by-me"
	ReceivedByPartner Kind = "received-by-partner"
	Stream            Kind = "stream"
)

// Kinds lists every feed kind.
var Kinds = []Kind{SentByMe, SentByPartner, ReceivedByMe, ReceivedByPartner, Stream}

// ErrUnknownKind is returned for a Kind a source cannot serve.
var ErrUnknownKind = errors.New("unknown feed kind")

// ErrMissingParam is returned when a feed lacks the address it is keyed on.
var ErrMissingParam = errors.New("missing feed parameter")

// Params address a query.
type Params struct {
	Self    string
	Partner string
	ChainID string
}

// Source answers feed queries.
type Source interface {
	Query(ctx context.Context, kind Kind, params Params) ([]models.RawEvent, error)
}

// CooldownStatus is the remote cooldown record of an account.
type CooldownStatus struct {
	Enabled bool
	// LastSend is the raw, unit-ambiguous timestamp of the latest send; nil
	// when the account never sent.
	LastSend any
}

// CooldownSource reads cooldown state.
type CooldownSource interface {
	CooldownStatus(ctx context.Context, owner string) (CooldownStatus, error)
}

// Notification is an opaque change signal. It carries no events.
type Notification struct {
	ID     string
	Height uint64
	Hash   string
}

// Notifier delivers change notifications until ctx is done. The channel is
// closed when the subscription ends.
type Notifier interface {
	Subscribe(ctx context.Context, chainID string) (<-chan Notification, error)
}

// Plan returns the feeds to query for a view. Without a partner the self
// account's own sent and received feeds are read; with a partner the
// partner's feeds cover the other direction. The stream is always read.
func Plan(params Params) []Kind {
	if params.Partner == "" {
		return []Kind{SentByMe, ReceivedByMe, Stream}
	}
	return []Kind{SentByMe, SentByPartner, ReceivedByMe, ReceivedByPartner, Stream}
}

// Filter keeps the events of kind that belong to the view. Received feeds
// can include records addressed elsewhere and are narrowed to their owner.
// Every kept event is tagged with kind.
func Filter(kind Kind, params Params, events []models.RawEvent) []models.RawEvent {
	var owner string
	switch kind {
	case ReceivedByMe:
		owner = models.NormalizeAddress(params.Self)
	case ReceivedByPartner:
		owner = models.NormalizeAddress(params.Partner)
	}

	out := make([]models.RawEvent, 0, len(events))
	for _, e := range events {
		if owner != "" && models.NormalizeAddress(e.Recipient) != owner {
			continue
		}
		e.Feed = string(kind)
		out = append(out, e)
	}
	return out
}

type notificationWire struct {
	Reason struct {
		NewBlock *struct {
			Height json.Number `json:"height"`
			Hash   string      `json:"hash"`
		} `json:"NewBlock"`
	} `json:"reason"`
}

// ParseNotification decodes a chain notification. Only new-block
// notifications with a height and hash are recognized.
func ParseNotification(raw []byte) (Notification, bool) {
	var wire notificationWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Notification{}, false
	}
	block := wire.Reason.NewBlock
	if block == nil || block.Hash == "" {
		return Notification{}, false
	}
	height, err := block.Height.Int64()
	if err != nil || height <= 0 {
		return Notification{}, false
	}
	hash := block.Hash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return Notification{
		ID:     fmt.Sprintf("block-%d-%s", height, hash),
		Height: uint64(height),
		Hash:   block.Hash,
	}, true
}
