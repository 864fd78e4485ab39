package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/config"
	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/kv"
	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/scheduler"
	"github.com/tOgg1/gmic/internal/session"
)

// errNotConnected is returned when a command needs an account and none is
// configured or remembered.
var errNotConnected = errors.New("no account connected; run 'gmic connect <address>' or set GMIC_ACCOUNT_SELF")

// remote bundles the feed-side dependencies of a session.
type remote struct {
	source   feed.Source
	cooldown feed.CooldownSource
	notifier feed.Notifier
}

// app holds what commands share: loaded configuration, the context store,
// the preference store and the remote feeds.
type app struct {
	out    io.Writer
	errOut io.Writer
	logger zerolog.Logger

	cfg        *config.Config
	configFile string
	contexts   *config.ContextStore
	logCloser  io.Closer
	store      kv.Store
	prefs      *kv.Prefs

	// newRemote and clock are replaced in tests.
	newRemote func(cfg *config.Config) remote
	clock     scheduler.Clock
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:       out,
		errOut:    errOut,
		logger:    logging.Component("cli"),
		newRemote: defaultRemote,
		clock:     scheduler.RealClock(),
	}
}

// init loads configuration and logging. Flags win over every other source.
func (a *app) init(cmd *cobra.Command) error {
	loader := config.NewLoader()
	flags := cmd.Flags()
	if path, _ := flags.GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		loader.Set("logging.level", level)
	}
	if format, _ := flags.GetString("log-format"); format != "" {
		loader.Set("logging.format", format)
	}

	cfg, err := loader.Load()
	if err != nil {
		return Exitf(ExitCodeUsage, "%w", err)
	}
	a.cfg = cfg

	logCfg := cfg.LogConfig()
	logCfg.Output = a.errOut
	closer, err := logging.Init(logCfg)
	if err != nil {
		return Exitf(ExitCodeFailure, "init logging: %w", err)
	}
	a.logCloser = closer
	a.logger = logging.Component("cli")

	contextPath, _ := flags.GetString("context")
	a.contexts = config.NewContextStore(contextPath)

	a.configFile = loader.ConfigFileUsed()
	a.logger.Debug().Str("config", a.configFile).Msg("configuration loaded")
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store, a.prefs = nil, nil
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
		a.logCloser = nil
	}
	return errors.Join(errs...)
}

// preferences opens the configured store on first use.
func (a *app) preferences(ctx context.Context) (*kv.Prefs, error) {
	if a.prefs != nil {
		return a.prefs, nil
	}
	if strings.EqualFold(a.cfg.Store.Backend, kv.BackendSQLite) || a.cfg.Store.Backend == "" {
		if err := a.cfg.EnsureDirectories(); err != nil {
			return nil, Exitf(ExitCodeFailure, "%w", err)
		}
	}
	store, err := kv.Open(ctx, a.cfg.StoreOptions())
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "open preference store: %w", err)
	}
	a.store = store
	a.prefs = kv.NewPrefs(store)
	return a.prefs, nil
}

// account resolves the self address: configuration first, then the saved
// context.
func (a *app) account() (self, partner, chainID string, err error) {
	saved, err := a.contexts.Load()
	if err != nil {
		return "", "", "", Exitf(ExitCodeFailure, "%w", err)
	}
	self = models.NormalizeAddress(a.cfg.Account.Self)
	chainID = a.cfg.Account.ChainID
	if self == "" {
		self = saved.Self
	}
	if self == saved.Self {
		partner = saved.Partner
		if chainID == "" {
			chainID = saved.ChainID
		}
	}
	if self == "" {
		return "", "", "", Exitf(ExitCodeUsage, "%w", errNotConnected)
	}
	return self, partner, chainID, nil
}

// openSession opens a session for self focused on partner.
func (a *app) openSession(ctx context.Context, self, partner, chainID string, notify bool) (*session.Session, error) {
	prefs, err := a.preferences(ctx)
	if err != nil {
		return nil, err
	}
	r := a.newRemote(a.cfg)

	opts := a.cfg.SessionOptions()
	opts.Self = self
	opts.ChainID = prefs.TargetChainID(ctx, chainID)
	opts.Source = r.source
	opts.Cooldown = r.cooldown
	opts.Prefs = prefs
	opts.Clock = a.clock
	if notify {
		opts.Notifier = r.notifier
	}

	s, err := session.Open(ctx, opts)
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "open session: %w", err)
	}
	s.SetPartner(partner)
	return s, nil
}

func defaultRemote(cfg *config.Config) remote {
	client := feed.NewClient(cfg.Feed.Endpoint, feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout}))
	r := remote{source: client, cooldown: client}

	switch strings.ToLower(cfg.Notify.Transport) {
	case config.TransportWebSocket:
		r.notifier = feed.NewWSNotifier(cfg.Notify.WebSocketURL)
	case config.TransportMQTT:
		r.notifier = feed.NewMQTTNotifier(feed.MQTTOptions{
			Broker:      cfg.Notify.MQTT.Broker,
			ClientID:    cfg.Notify.MQTT.ClientID,
			Username:    cfg.Notify.MQTT.Username,
			Password:    cfg.Notify.MQTT.Password,
			TopicPrefix: cfg.Notify.MQTT.TopicPrefix,
			QoS:         byte(cfg.Notify.MQTT.QoS),
		})
	}
	return r
}

func describeAccount(self string) string {
	return fmt.Sprintf("%s (%s)", models.ShortAddress(self), self)
}
