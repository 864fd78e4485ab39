package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/cooldown"
)

type cooldownJSON struct {
	State        string `json:"state"`
	Enabled      bool   `json:"enabled"`
	LastActionMs int64  `json:"last_action_ms,omitempty"`
	RemainingMs  int64  `json:"remaining_ms"`
	Remaining    string `json:"remaining"`
	Stale        bool   `json:"stale,omitempty"`
}

func newCooldownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cooldown",
		Short: "Show how long until the connected account may send again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCooldown(cmd)
		},
	}
}

func (a *app) runCooldown(cmd *cobra.Command) error {
	ctx := cmd.Context()
	self, _, chainID, err := a.account()
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx, self, "", chainID, false)
	if err != nil {
		return err
	}
	defer s.Close()

	// A failed read leaves the machine allowing sends; report it but keep
	// the exit status clean.
	stale := false
	if err := s.RefreshCooldown(ctx); err != nil {
		stale = true
		a.logger.Warn().Err(err).Msg("showing cached cooldown state")
	}

	snap := s.Cooldown().Snapshot()
	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return writeJSONLine(out, cooldownJSON{
			State:        snap.State.String(),
			Enabled:      snap.Enabled,
			LastActionMs: snap.LastActionMs,
			RemainingMs:  snap.Remaining.Milliseconds(),
			Remaining:    cooldown.Format(snap.Remaining),
			Stale:        stale,
		})
	}

	switch snap.State {
	case cooldown.Idle:
		fmt.Fprintln(out, "Cooldown is disabled.")
	case cooldown.Ready:
		fmt.Fprintln(out, "Ready to send.")
	case cooldown.Counting:
		fmt.Fprintf(out, "Next message in %s.\n", cooldown.Format(snap.Remaining))
	}
	if snap.HasLastAction {
		fmt.Fprintf(out, "Last sent %s.\n", relativeTime(snap.LastActionMs, a.clock.Now()))
	}
	return nil
}
