package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	graphql "github.com/hasura/go-graphql-client"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
)

// Reconnect backoff bounds.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// DefaultConnectTimeout bounds how long one session keeps retrying its
// initial connection before the notifier backs off.
const DefaultConnectTimeout = 10 * time.Second

// ErrSubscriptionEnded is returned when the server completes or rejects the
// subscription.
var ErrSubscriptionEnded = errors.New("subscription ended by server")

// WSNotifier subscribes to chain notifications over graphql-transport-ws
// and reconnects with exponential backoff until its context ends.
type WSNotifier struct {
	url            string
	params         map[string]any
	minBackoff     time.Duration
	maxBackoff     time.Duration
	connectTimeout time.Duration
	logger         zerolog.Logger
}

// WSOption configures a WSNotifier.
type WSOption func(*WSNotifier)

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) WSOption {
	return func(n *WSNotifier) {
		if min > 0 {
			n.minBackoff = min
		}
		if max >= n.minBackoff {
			n.maxBackoff = max
		}
	}
}

// WithConnectionParams sets the connection_init payload.
func WithConnectionParams(params map[string]any) WSOption {
	return func(n *WSNotifier) { n.params = params }
}

// NewWSNotifier creates a notifier for a ws:// or wss:// endpoint.
func NewWSNotifier(url string, opts ...WSOption) *WSNotifier {
	n := &WSNotifier{
		url:            url,
		params:         map[string]any{},
		minBackoff:     DefaultMinBackoff,
		maxBackoff:     DefaultMaxBackoff,
		connectTimeout: DefaultConnectTimeout,
		logger:         logging.Component("notify.ws"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe starts the subscription loop. The returned channel closes once
// ctx is done.
func (n *WSNotifier) Subscribe(ctx context.Context, chainID string) (<-chan Notification, error) {
	if chainID == "" {
		return nil, fmt.Errorf("%w: chain id", ErrMissingParam)
	}
	out := make(chan Notification, 16)
	go n.run(ctx, chainID, out)
	return out, nil
}

func (n *WSNotifier) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.minBackoff
	b.MaxInterval = n.maxBackoff
	b.Reset()
	return b
}

func (n *WSNotifier) run(ctx context.Context, chainID string, out chan<- Notification) {
	defer close(out)

	b := n.newBackOff()
	for {
		connected, err := n.session(ctx, chainID, out)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		delay := b.NextBackOff()
		n.logger.Warn().
			Err(err).
			Str("endpoint", logging.RedactURL(n.url)).
			Dur("retry_in", delay).
			Msg("notification stream interrupted")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one subscription client until the server ends the
// subscription, the connection gives up or ctx is done. It reports whether
// the server acknowledged the connection, which resets the backoff.
func (n *WSNotifier) session(ctx context.Context, chainID string, out chan<- Notification) (bool, error) {
	var connected atomic.Bool
	client := graphql.NewSubscriptionClient(n.url).
		WithProtocol(graphql.GraphQLWS).
		WithConnectionParams(n.params).
		WithRetryTimeout(n.connectTimeout).
		WithExitWhenNoSubscription(true).
		WithLog(func(args ...any) {
			n.logger.Trace().Msg(fmt.Sprint(args...))
		}).
		OnConnected(func() { connected.Store(true) })

	handler := func(message []byte, err error) error {
		if err != nil {
			n.logger.Debug().Err(err).Str("reason", "subscription-error").Msg("notification skipped")
			return nil
		}
		note, ok := parseNext(message)
		if !ok {
			n.logger.Debug().Str("reason", "unrecognized-notification").Msg("notification skipped")
			return nil
		}
		select {
		case out <- note:
		case <-ctx.Done():
		}
		return nil
	}
	if _, err := client.Exec(SubscriptionNotifications, map[string]any{"chainId": chainID}, handler); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	n.logger.Info().Str("chain", chainID).Msg("notification stream subscribed")
	if err := client.Run(); err != nil {
		return connected.Load(), fmt.Errorf("run: %w", err)
	}
	return connected.Load(), ErrSubscriptionEnded
}

// parseNext accepts the subscription data object, or a full next payload
// that still carries its data envelope.
func parseNext(payload json.RawMessage) (Notification, bool) {
	var next struct {
		Notifications json.RawMessage `json:"notifications"`
		Data          *struct {
			Notifications json.RawMessage `json:"notifications"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &next); err != nil {
		return Notification{}, false
	}
	if next.Data != nil {
		return ParseNotification(next.Data.Notifications)
	}
	return ParseNotification(next.Notifications)
}
