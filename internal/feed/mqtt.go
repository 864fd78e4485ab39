package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
)

// DefaultTopicPrefix roots notification topics: <prefix>/<chain>/notifications.
const DefaultTopicPrefix = "gmic"

// MQTTOptions configure an MQTTNotifier.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// MQTTNotifier receives chain notifications relayed onto an MQTT broker.
type MQTTNotifier struct {
	opts      MQTTOptions
	logger    zerolog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTNotifier creates a notifier. The client id defaults to a
// gmic-prefixed unique name.
func NewMQTTNotifier(opts MQTTOptions) *MQTTNotifier {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("gmic-%d", time.Now().UnixNano())
	}
	return &MQTTNotifier{
		opts:      opts,
		logger:    logging.Component("notify.mqtt"),
		newClient: mqtt.NewClient,
	}
}

// Topic returns the notification topic of chainID.
func (n *MQTTNotifier) Topic(chainID string) string {
	return strings.TrimSuffix(n.opts.TopicPrefix, "/") + "/" + chainID + "/notifications"
}

// Subscribe connects to the broker and subscribes to the chain's topic.
// The subscription is renewed on every reconnect.
func (n *MQTTNotifier) Subscribe(ctx context.Context, chainID string) (<-chan Notification, error) {
	if chainID == "" {
		return nil, fmt.Errorf("%w: chain id", ErrMissingParam)
	}
	topic := n.Topic(chainID)
	sink := newNotificationSink(ctx, n.logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.opts.Broker)
	opts.SetClientID(n.opts.ClientID)
	opts.SetUsername(n.opts.Username)
	opts.SetPassword(n.opts.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(n.opts.Timeout)
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(topic, n.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			sink.deliver(msg.Payload())
		})
		if token.WaitTimeout(n.opts.Timeout) && token.Error() != nil {
			n.logger.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
			return
		}
		n.logger.Info().Str("topic", topic).Msg("mqtt subscribed")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n.logger.Warn().Err(err).Msg("mqtt connection lost")
	}

	client := n.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(n.opts.Timeout) {
		sink.close()
		return nil, fmt.Errorf("mqtt connect %s: timed out", logging.RedactURL(n.opts.Broker))
	}
	if err := token.Error(); err != nil {
		sink.close()
		return nil, fmt.Errorf("mqtt connect %s: %w", logging.RedactURL(n.opts.Broker), err)
	}

	go func() {
		<-ctx.Done()
		client.Unsubscribe(topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		sink.close()
	}()
	return sink.out, nil
}

// notificationSink forwards parsed payloads until closed. Broker callbacks
// may race with shutdown, so sends and close share a lock.
type notificationSink struct {
	ctx    context.Context
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	out    chan Notification
}

func newNotificationSink(ctx context.Context, logger zerolog.Logger) *notificationSink {
	return &notificationSink{ctx: ctx, logger: logger, out: make(chan Notification, 16)}
}

func (s *notificationSink) deliver(payload []byte) {
	note, ok := ParseNotification(payload)
	if !ok {
		s.logger.Debug().Str("reason", "unrecognized-notification").Msg("notification skipped")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- note:
	case <-s.ctx.Done():
	default:
		// Notifications only trigger refreshes; a full buffer already holds one.
		s.logger.Debug().Str("id", note.ID).Msg("notification buffer full")
	}
}

func (s *notificationSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
