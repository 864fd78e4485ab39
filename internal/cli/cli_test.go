package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/gmic/internal/config"
	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/testutil"
)

const (
	selfAddr    = "0xa091c0ffee00000000000000000000000000f0f2"
	partnerAddr = "0xbeef000000000000000000000000000000001234"
)

type harness struct {
	t        *testing.T
	home     string
	clock    *testutil.FakeClock
	source   *testutil.FakeSource
	cooldown *testutil.FakeCooldown
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))
	t.Setenv(config.EnvVar("account.self"), "")
	t.Setenv(config.EnvVar("logging.level"), "error")
	return &harness{
		t:        t,
		home:     home,
		clock:    testutil.NewFakeClock(time.Time{}),
		source:   testutil.NewFakeSource(),
		cooldown: &testutil.FakeCooldown{},
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	a.clock = h.clock
	a.newRemote = func(*config.Config) remote {
		return remote{source: h.source, cooldown: h.cooldown}
	}
	cmd := newRootCmd("test", a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(h.t.Context())
	require.NoError(h.t, a.close())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err)
	return out
}

func gm(sender, recipient string, ms int64, body string) models.RawEvent {
	return models.RawEvent{
		Sender:    sender,
		Recipient: recipient,
		Timestamp: strconv.FormatInt(ms, 10),
		Content:   models.Text{Value: body},
	}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	return exitErr.Code
}

func TestCommandsRequireAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("history")
	require.ErrorIs(t, err, errNotConnected)
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestConnectFocusStatus(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("connect", strings.ToUpper(selfAddr[2:]), "--chain", "chain-7")
	require.Contains(t, out, "0xa091...f0f2")

	out = h.mustRun("focus", partnerAddr)
	require.Contains(t, out, "partner:0xbeef...1234")

	var st statusJSON
	out = h.mustRun("status", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, selfAddr, st.Account)
	require.Equal(t, partnerAddr, st.Partner)
	require.Equal(t, "chain-7", st.ChainID)
	require.Equal(t, "messages", st.ActiveTab)

	h.mustRun("disconnect")
	_, err := h.run("focus", partnerAddr)
	require.ErrorIs(t, err, errNotConnected)
}

func TestHistoryListsConversations(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)

	base := testutil.Epoch.UnixMilli()
	h.source.Set(feed.ReceivedByMe, gm(partnerAddr, selfAddr, base-60_000, "gm from partner"))
	h.source.Set(feed.SentByMe, gm(selfAddr, partnerAddr, base-30_000, "gm back"))

	out := h.mustRun("history")
	require.Contains(t, out, "CONTACT")
	require.Contains(t, out, "0xbeef...1234")
	require.Contains(t, out, "you: gm back")
	require.Contains(t, out, "30 seconds ago")

	out = h.mustRun("history", "--json")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var summary summaryJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &summary))
	require.Equal(t, partnerAddr, summary.Partner)
	require.Equal(t, 2, summary.MessageCount)
	require.NotNil(t, summary.Latest)
	require.True(t, summary.Latest.Sent)
}

func TestHistoryPartnerMessagesOldestFirst(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)

	base := testutil.Epoch.UnixMilli()
	h.source.Set(feed.SentByMe, gm(selfAddr, partnerAddr, base-10_000, "gm omega"))
	h.source.Set(feed.ReceivedByMe, gm(partnerAddr, selfAddr, base-20_000, "gm alpha"))

	out := h.mustRun("history", partnerAddr)
	older, newer := strings.Index(out, "gm alpha"), strings.Index(out, "gm omega")
	require.NotEqual(t, -1, older)
	require.NotEqual(t, -1, newer)
	require.Less(t, older, newer)
}

func TestHistoryAllFeedsFailed(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)
	h.source.FailAll(errors.New("indexer down"))

	_, err := h.run("history")
	require.Error(t, err)
	require.Equal(t, ExitCodeFailure, exitCode(t, err))
}

func TestWatchOncePrintsLiveMessages(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)
	h.source.Set(feed.ReceivedByMe, gm(partnerAddr, selfAddr, testutil.Epoch.UnixMilli(), "gm gm"))

	out := h.mustRun("watch", "--once", "--json")
	var msg messageJSON
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &msg))
	require.Equal(t, partnerAddr, msg.Sender)
	require.Equal(t, "gm gm", msg.Body)
	require.False(t, msg.Sent)
}

func TestWatchOnceSummarizesBackfill(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)
	base := testutil.Epoch.UnixMilli()
	var events []models.RawEvent
	for i := range 5 {
		events = append(events, gm(partnerAddr, selfAddr, base-int64(i)*1000, "gm"))
	}
	h.source.Set(feed.ReceivedByMe, events...)

	out := h.mustRun("watch", "--once")
	require.Equal(t, "Loaded 5 messages in 1 conversations.\n", out)
}

func TestCooldownCommand(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)

	h.cooldown.Set(feed.CooldownStatus{Enabled: true, LastSend: testutil.Epoch.Add(-time.Hour).UnixMilli()})
	out := h.mustRun("cooldown")
	require.Contains(t, out, "Next message in 23h 00m 00s.")

	h.cooldown.Set(feed.CooldownStatus{Enabled: false})
	out = h.mustRun("cooldown", "--json")
	var cd cooldownJSON
	require.NoError(t, json.Unmarshal([]byte(out), &cd))
	require.Equal(t, "idle", cd.State)
	require.Zero(t, cd.RemainingMs)
}

func TestCooldownFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)
	h.cooldown.Fail(errors.New("rpc timeout"))

	out := h.mustRun("cooldown", "--json")
	var cd cooldownJSON
	require.NoError(t, json.Unmarshal([]byte(out), &cd))
	require.True(t, cd.Stale)
	require.Zero(t, cd.RemainingMs)
}

func TestPinPersists(t *testing.T) {
	h := newHarness(t)
	h.mustRun("connect", selfAddr)

	out := h.mustRun("pin", partnerAddr)
	require.Contains(t, out, "0xbeef...1234")

	out = h.mustRun("history", "--json")
	var summary summaryJSON
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &summary))
	require.Equal(t, partnerAddr, summary.Partner)
	require.True(t, summary.Pinned)
	require.Zero(t, summary.MessageCount)

	out = h.mustRun("unpin", partnerAddr)
	require.Equal(t, "No pinned conversations.\n", out)
}

func TestTabCommand(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, "messages\n", h.mustRun("tab"))
	require.Equal(t, "settings\n", h.mustRun("tab", "settings"))
	require.Equal(t, "settings\n", h.mustRun("tab"))

	_, err := h.run("tab", "bogus")
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestNormalizeCommand(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("normalize", "--json", "1709632800", "1709632800000")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var res normalizeJSON
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		require.Equal(t, int64(1709632800000), res.Millis)
	}

	_, err := h.run("normalize", "42")
	require.Equal(t, ExitCodeFailure, exitCode(t, err))
}

func TestValidateCommand(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("validate", "gm", "frens")
	require.Equal(t, "OK (272 characters left)\n", out)

	_, err := h.run("validate", strings.Repeat("g", 281))
	require.Equal(t, ExitCodeFailure, exitCode(t, err))
}

func TestFitCell(t *testing.T) {
	require.Equal(t, "a b", fitCell("a\n  b"))
	long := strings.Repeat("x", maxCellWidth+5)
	cell := fitCell(long)
	require.True(t, strings.HasSuffix(cell, "…"))
}
