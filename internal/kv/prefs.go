package kv

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
)

// Preference keys.
const (
	KeyActiveTab       = "activeTab"
	KeyTargetChainID   = "targetChainId"
	KeyCooldownEnabled = "cooldownEnabled"
	keyProfilePrefix   = "userProfile_"
	keyPinnedPrefix    = "pinnedContacts_"
)

// Tabs a client may restore.
const (
	TabMessages     = "messages"
	TabLeaderboards = "leaderboards"
	TabSettings     = "settings"
)

// DefaultTab is used when nothing valid is stored.
const DefaultTab = TabMessages

var validTabs = []string{TabMessages, TabLeaderboards, TabSettings}

// Prefs reads and writes typed preferences. Store failures never reach the
// caller: reads fall back to defaults, writes are dropped, both are logged.
type Prefs struct {
	store  Store
	logger zerolog.Logger
}

// NewPrefs wraps store.
func NewPrefs(store Store) *Prefs {
	return &Prefs{store: store, logger: logging.Component("prefs")}
}

func (p *Prefs) get(ctx context.Context, key string) (string, bool) {
	value, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("preference read failed, using default")
		return "", false
	}
	return value, ok
}

func (p *Prefs) set(ctx context.Context, key, value string) {
	if err := p.store.Set(ctx, key, value); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("preference write failed")
	}
}

// ActiveTab returns the stored tab, or DefaultTab.
func (p *Prefs) ActiveTab(ctx context.Context) string {
	value, ok := p.get(ctx, KeyActiveTab)
	if !ok || !slices.Contains(validTabs, value) {
		return DefaultTab
	}
	return value
}

// SetActiveTab stores a known tab; unknown tabs are ignored.
func (p *Prefs) SetActiveTab(ctx context.Context, tab string) {
	if !slices.Contains(validTabs, tab) {
		p.logger.Debug().Str("tab", tab).Msg("ignoring unknown tab")
		return
	}
	p.set(ctx, KeyActiveTab, tab)
}

// TargetChainID returns the stored chain, or fallback.
func (p *Prefs) TargetChainID(ctx context.Context, fallback string) string {
	if value, ok := p.get(ctx, KeyTargetChainID); ok && value != "" {
		return value
	}
	return fallback
}

// SetTargetChainID stores the chain to send to.
func (p *Prefs) SetTargetChainID(ctx context.Context, chainID string) {
	p.set(ctx, KeyTargetChainID, chainID)
}

// CooldownEnabled returns the last known cooldown flag and whether one was
// stored.
func (p *Prefs) CooldownEnabled(ctx context.Context) (enabled, known bool) {
	value, ok := p.get(ctx, KeyCooldownEnabled)
	if !ok {
		return false, false
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		p.logger.Debug().Str("value", value).Msg("ignoring malformed cooldown preference")
		return false, false
	}
	return enabled, true
}

// SetCooldownEnabled caches the cooldown flag.
func (p *Prefs) SetCooldownEnabled(ctx context.Context, enabled bool) {
	p.set(ctx, KeyCooldownEnabled, strconv.FormatBool(enabled))
}

// Profile returns the cached profile of account.
func (p *Prefs) Profile(ctx context.Context, account string) (models.Profile, bool) {
	var profile models.Profile
	if !p.getJSON(ctx, keyProfilePrefix+models.NormalizeAddress(account), &profile) {
		return models.Profile{}, false
	}
	return profile, true
}

// SetProfile caches the profile of account.
func (p *Prefs) SetProfile(ctx context.Context, account string, profile models.Profile) {
	p.setJSON(ctx, keyProfilePrefix+models.NormalizeAddress(account), profile)
}

// Pinned returns account's pinned contacts in pinned order.
func (p *Prefs) Pinned(ctx context.Context, account string) []string {
	var pinned []string
	if !p.getJSON(ctx, keyPinnedPrefix+models.NormalizeAddress(account), &pinned) {
		return nil
	}
	return models.NormalizeAddresses(pinned)
}

// SetPinned stores account's pinned contacts.
func (p *Prefs) SetPinned(ctx context.Context, account string, pinned []string) {
	p.setJSON(ctx, keyPinnedPrefix+models.NormalizeAddress(account), models.NormalizeAddresses(pinned))
}

// Pin appends address to account's pinned list if absent.
func (p *Prefs) Pin(ctx context.Context, account, address string) []string {
	pinned := p.Pinned(ctx, account)
	address = models.NormalizeAddress(address)
	if address == "" || slices.Contains(pinned, address) {
		return pinned
	}
	pinned = append(pinned, address)
	p.SetPinned(ctx, account, pinned)
	return pinned
}

// Unpin removes address from account's pinned list.
func (p *Prefs) Unpin(ctx context.Context, account, address string) []string {
	address = models.NormalizeAddress(address)
	pinned := slices.DeleteFunc(p.Pinned(ctx, account), func(x string) bool { return x == address })
	p.SetPinned(ctx, account, pinned)
	return pinned
}

func (p *Prefs) getJSON(ctx context.Context, key string, out any) bool {
	value, ok := p.get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("preference is not valid json, using default")
		return false
	}
	return true
}

func (p *Prefs) setJSON(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("preference encode failed")
		return
	}
	p.set(ctx, key, string(data))
}
