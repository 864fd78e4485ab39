package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
)

const eventFields = `sender senderName senderAvatar recipient recipientName recipientAvatar timestamp content { content messageType }`

const (
	querySentEvents     = `query GetGmEvents($sender: AccountOwner!) { events: getGmEvents(sender: $sender) { ` + eventFields + ` } }`
	queryReceivedEvents = `query GetReceivedGmEvents($recipient: AccountOwner!) { events: getReceivedGmEvents(recipient: $recipient) { ` + eventFields + ` } }`
	queryStreamEvents   = `query GetStreamEvents($chainId: ChainId!) { events: getStreamEvents(chainId: $chainId) { ` + eventFields + ` } }`
	queryGmRecord       = `query GetGmRecord($owner: AccountOwner!) { getGmRecord(owner: $owner) { owner timestamp } }`
	queryCooldown       = `query GetCooldownStatus { getCooldownStatus { enabled } }`

	// SubscriptionNotifications is the change-notification subscription.
	SubscriptionNotifications = `subscription SubscribeGmEvents($chainId: ChainId!) { notifications(chainId: $chainId) }`
)

// DefaultTimeout bounds a single GraphQL request.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// ErrHTTPStatus is wrapped when the endpoint answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

// GraphQLError is a server-reported error.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// Client queries the application's GraphQL endpoint. It implements Source
// and CooldownSource.
type Client struct {
	endpoint   string
	httpClient *http.Client
	gql        *graphql.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) { client.httpClient = c }
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logging.Component("feed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.gql = graphql.NewClient(endpoint, &statusDoer{next: c.httpClient})
	return c
}

// Query fetches one feed.
func (c *Client) Query(ctx context.Context, kind Kind, params Params) ([]models.RawEvent, error) {
	query, vars, err := queryFor(kind, params)
	if err != nil {
		return nil, err
	}

	var data struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := c.do(ctx, query, vars, &data); err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}

	events := DecodeEvents(data.Events, c.logger.With().Str("feed", string(kind)).Logger())
	c.logger.Debug().Str("feed", string(kind)).Int("events", len(events)).Msg("feed fetched")
	return Filter(kind, params, events), nil
}

// DecodeEvents decodes records one by one, logging and skipping any that
// are malformed.
func DecodeEvents(records []json.RawMessage, logger zerolog.Logger) []models.RawEvent {
	out := make([]models.RawEvent, 0, len(records))
	for _, record := range records {
		var e models.RawEvent
		if err := json.Unmarshal(record, &e); err != nil {
			logger.Debug().Err(err).Str("reason", "malformed-record").Msg("event skipped")
			continue
		}
		out = append(out, e)
	}
	return out
}

func queryFor(kind Kind, params Params) (string, map[string]any, error) {
	need := func(name, value string) error {
		if value == "" {
			return fmt.Errorf("%w: %s needs %s", ErrMissingParam, kind, name)
		}
		return nil
	}
	self := models.NormalizeAddress(params.Self)
	partner := models.NormalizeAddress(params.Partner)

	switch kind {
	case SentByMe:
		return querySentEvents, map[string]any{"sender": self}, need("self", self)
	case SentByPartner:
		return querySentEvents, map[string]any{"sender": partner}, need("partner", partner)
	case ReceivedByMe:
		return queryReceivedEvents, map[string]any{"recipient": self}, need("self", self)
	case ReceivedByPartner:
		return queryReceivedEvents, map[string]any{"recipient": partner}, need("partner", partner)
	case Stream:
		return queryStreamEvents, map[string]any{"chainId": params.ChainID}, need("chain id", params.ChainID)
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// CooldownStatus reads the enablement flag and the owner's latest send.
func (c *Client) CooldownStatus(ctx context.Context, owner string) (CooldownStatus, error) {
	var status struct {
		GetCooldownStatus struct {
			Enabled bool `json:"enabled"`
		} `json:"getCooldownStatus"`
	}
	if err := c.do(ctx, queryCooldown, nil, &status); err != nil {
		return CooldownStatus{}, fmt.Errorf("cooldown status: %w", err)
	}

	out := CooldownStatus{Enabled: status.GetCooldownStatus.Enabled}
	owner = models.NormalizeAddress(owner)
	if owner == "" {
		return out, nil
	}

	var record struct {
		GetGmRecord *struct {
			Timestamp json.RawMessage `json:"timestamp"`
		} `json:"getGmRecord"`
	}
	if err := c.do(ctx, queryGmRecord, map[string]any{"owner": owner}, &record); err != nil {
		return out, fmt.Errorf("gm record: %w", err)
	}
	if record.GetGmRecord != nil {
		out.LastSend = rawTimestamp(record.GetGmRecord.Timestamp)
	}
	return out, nil
}

// rawTimestamp keeps numbers as json.Number so large values stay exact.
func rawTimestamp(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

type callStateKey struct{}

// callState records what the transport saw for one request.
type callState struct {
	status int
}

// statusDoer records the response status for the calling request and caps
// how much of the body is read.
type statusDoer struct {
	next *http.Client
}

func (d *statusDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if err != nil {
		return nil, err
	}
	if st, ok := req.Context().Value(callStateKey{}).(*callState); ok {
		st.status = resp.StatusCode
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxResponseBytes), resp.Body}
	return resp, nil
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	st := &callState{}
	data, err := c.gql.ExecRaw(context.WithValue(ctx, callStateKey{}, st), query, vars)
	switch {
	case st.status != 0 && (st.status < 200 || st.status > 299):
		return fmt.Errorf("%w: %d", ErrHTTPStatus, st.status)
	case err != nil && st.status == 0:
		return fmt.Errorf("post %s: %w", logging.RedactURL(c.endpoint), err)
	case err != nil:
		var errs graphql.Errors
		if !errors.As(err, &errs) {
			return fmt.Errorf("decode response: %w", err)
		}
		gqlErr := &GraphQLError{}
		for _, e := range errs {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("graphql: empty data")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
