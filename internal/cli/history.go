package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/models"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "history [partner]",
		Aliases: []string{"ls", "conversations"},
		Short:   "List conversations, or the messages exchanged with one partner",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHistory(cmd, args)
		},
	}
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	self, partner, chainID, err := a.account()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		partner = models.NormalizeAddress(args[0])
	}

	s, err := a.openSession(ctx, self, partner, chainID, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.Refresh(ctx); err != nil {
		return Exitf(ExitCodeFailure, "refresh: %w", err)
	}

	summaries := s.Summaries()
	book := a.cfg.AddressBook()
	now := a.clock.Now()
	out := cmd.OutOrStdout()

	if partner == "" {
		if jsonOutput(cmd) {
			for _, summary := range summaries {
				if err := writeJSONLine(out, toSummaryJSON(summary, self, book)); err != nil {
					return err
				}
			}
			return nil
		}
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No conversations yet.")
			return nil
		}
		return writeTable(out, []string{"CONTACT", "ADDRESS", "LATEST", "MESSAGES", "WHEN", "PINNED"},
			summaryRows(summaries, self, book, now))
	}

	var messages []models.Message
	for _, summary := range summaries {
		if summary.PartnerAddress == partner {
			messages = summary.AllMessages
			break
		}
	}
	if jsonOutput(cmd) {
		for _, m := range messages {
			if err := writeJSONLine(out, toMessageJSON(m)); err != nil {
				return err
			}
		}
		return nil
	}
	if len(messages) == 0 {
		fmt.Fprintf(out, "No messages with %s yet.\n", models.ShortAddress(partner))
		return nil
	}
	return writeTable(out, []string{"WHEN", "FROM", "MESSAGE"}, messageRows(messages, self, book, now))
}
