package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/events"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/session"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [partner]",
		Short: "Stream new GM messages as they land on chain",
		Long: "watch keeps a session open: it polls the feeds, refreshes on chain\n" +
			"notifications and prints every message that was not seen before.\n" +
			"The initial history load is not printed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args)
		},
	}
	cmd.Flags().Bool("once", false, "refresh once, print new messages and exit")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	self, partner, chainID, err := a.account()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		partner = models.NormalizeAddress(args[0])
	}
	once, _ := cmd.Flags().GetBool("once")

	s, err := a.openSession(ctx, self, partner, chainID, !once)
	if err != nil {
		return err
	}
	defer s.Close()

	printer := &activityPrinter{
		out:  cmd.OutOrStdout(),
		json: jsonOutput(cmd),
		self: self,
		book: a.cfg.AddressBook(),
	}
	filter := events.Filter{
		Types:   []events.Type{events.TypeMessage, events.TypeBackfill},
		Partner: partner,
	}
	if err := s.Events().Subscribe("watch", filter, printer.print); err != nil {
		return err
	}
	if err := s.Events().Subscribe("watch:failures", events.Filter{Types: []events.Type{events.TypeRefreshFailed}}, func(e *events.Event) {
		a.logger.Error().Err(e.Err).Msg(session.RefreshFailedMessage)
	}); err != nil {
		return err
	}

	if once {
		if _, err := s.Refresh(ctx); err != nil {
			return Exitf(ExitCodeFailure, "refresh: %w", err)
		}
		return nil
	}

	a.logger.Info().Str("account", self).Str("partner", partner).Msg("watching")
	s.Trigger("startup")
	<-ctx.Done()
	return nil
}

// activityPrinter writes session activity. Events arrive from background
// refreshes, so writes are serialized.
type activityPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
	self string
	book conversation.AddressBook
}

func (p *activityPrinter) print(e *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case events.TypeBackfill:
		if !p.json {
			fmt.Fprintf(p.out, "Loaded %d messages in %d conversations.\n", e.Count, e.Conversations)
		}
	case events.TypeMessage:
		m := *e.Message
		if p.json {
			_ = writeJSONLine(p.out, toMessageJSON(m))
			return
		}
		fmt.Fprintf(p.out, "%s  %s -> %s  %s\n",
			clockTime(m.TimestampMs),
			contactLabel(m.Sender, &m, p.self, p.book),
			contactLabel(m.Recipient, &m, p.self, p.book),
			models.Preview(m.Content))
	}
}
