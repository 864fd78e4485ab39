package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/models"
)

func newConnectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Remember the account whose conversations are followed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			self := models.NormalizeAddress(args[0])
			if self == "" {
				return Exitf(ExitCodeUsage, "address is required")
			}
			chainID, _ := cmd.Flags().GetString("chain")

			saved, err := a.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			saved.Connect(self, chainID)
			if err := a.contexts.Save(saved); err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			if chainID != "" {
				prefs, err := a.preferences(cmd.Context())
				if err != nil {
					return err
				}
				prefs.SetTargetChainID(cmd.Context(), chainID)
			}
			a.logger.Info().Str("account", self).Str("chain", chainID).Msg("connected")
			fmt.Fprintf(cmd.OutOrStdout(), "Connected %s\n", describeAccount(self))
			return nil
		},
	}
	cmd.Flags().String("chain", "", "target chain id")
	return cmd
}

func newDisconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the connected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.contexts.Clear(); err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
			return nil
		},
	}
}

func newFocusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "focus [partner]",
		Short: "Focus a conversation partner; no argument clears the focus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saved, err := a.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			if saved.IsEmpty() {
				return Exitf(ExitCodeUsage, "%w", errNotConnected)
			}
			partner := ""
			if len(args) == 1 {
				partner = args[0]
			}
			saved.Focus(partner)
			if err := a.contexts.Save(saved); err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.String())
			return nil
		},
	}
}

func newPinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <address>",
		Short: "Pin a conversation to the top of the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.updatePinned(cmd, args[0], true)
		},
	}
}

func newUnpinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <address>",
		Short: "Unpin a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.updatePinned(cmd, args[0], false)
		},
	}
}

func (a *app) updatePinned(cmd *cobra.Command, address string, pin bool) error {
	ctx := cmd.Context()
	self, _, _, err := a.account()
	if err != nil {
		return err
	}
	address = models.NormalizeAddress(address)
	if address == "" {
		return Exitf(ExitCodeUsage, "address is required")
	}
	prefs, err := a.preferences(ctx)
	if err != nil {
		return err
	}
	var pinned []string
	if pin {
		pinned = prefs.Pin(ctx, self, address)
	} else {
		pinned = prefs.Unpin(ctx, self, address)
	}
	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return writeJSONLine(out, map[string]any{"pinned": pinned})
	}
	if len(pinned) == 0 {
		fmt.Fprintln(out, "No pinned conversations.")
		return nil
	}
	short := make([]string, len(pinned))
	for i, p := range pinned {
		short[i] = models.ShortAddress(p)
	}
	fmt.Fprintf(out, "Pinned: %s\n", strings.Join(short, ", "))
	return nil
}

type statusJSON struct {
	Account    string   `json:"account,omitempty"`
	Partner    string   `json:"partner,omitempty"`
	ChainID    string   `json:"chain_id,omitempty"`
	ConfigFile string   `json:"config_file,omitempty"`
	Context    string   `json:"context_file"`
	Endpoint   string   `json:"endpoint"`
	Transport  string   `json:"transport"`
	Backend    string   `json:"store_backend"`
	ActiveTab  string   `json:"active_tab"`
	Pinned     []string `json:"pinned"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the connected account and effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			saved, err := a.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%w", err)
			}
			prefs, err := a.preferences(ctx)
			if err != nil {
				return err
			}

			st := statusJSON{
				Account:    saved.Self,
				Partner:    saved.Partner,
				ConfigFile: a.configFile,
				Context:    a.contexts.Path(),
				Endpoint:   a.cfg.Feed.Endpoint,
				Transport:  a.cfg.Notify.Transport,
				Backend:    a.cfg.Store.Backend,
				ActiveTab:  prefs.ActiveTab(ctx),
				Pinned:     []string{},
			}
			if self, _, chainID, err := a.account(); err == nil {
				st.Account = self
				st.ChainID = prefs.TargetChainID(ctx, chainID)
				st.Pinned = prefs.Pinned(ctx, self)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSONLine(out, st)
			}
			rows := [][]string{
				{"account", orDash(st.Account)},
				{"partner", orDash(st.Partner)},
				{"chain", orDash(st.ChainID)},
				{"config", orDash(st.ConfigFile)},
				{"context", st.Context},
				{"endpoint", st.Endpoint},
				{"transport", st.Transport},
				{"store", st.Backend},
				{"tab", st.ActiveTab},
				{"pinned", orDash(strings.Join(st.Pinned, ", "))},
			}
			return writeTable(out, []string{"SETTING", "VALUE"}, rows)
		},
	}
}

func newTabCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tab [messages|leaderboards|settings]",
		Short: "Show or set the tab a client restores on start",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			prefs, err := a.preferences(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				tab := strings.ToLower(args[0])
				prefs.SetActiveTab(ctx, tab)
				if prefs.ActiveTab(ctx) != tab {
					return Exitf(ExitCodeUsage, "unknown tab %q", args[0])
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), prefs.ActiveTab(ctx))
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
