package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/gmic/internal/timestamp"
	"github.com/tOgg1/gmic/internal/validate"
)

type normalizeJSON struct {
	Input  string `json:"input"`
	Millis int64  `json:"ms"`
	Unit   string `json:"unit"`
	Time   string `json:"time,omitempty"`
}

func newNormalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <timestamp>...",
		Short: "Convert feed timestamps of any unit into epoch milliseconds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(args))
			invalid := 0
			for _, raw := range args {
				ms, unit := timestamp.Default.Detect(raw)
				res := normalizeJSON{Input: raw, Millis: ms, Unit: string(unit)}
				if unit == timestamp.UnitNone {
					invalid++
					res.Unit = "invalid"
				} else {
					res.Time = time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
				}
				if jsonOutput(cmd) {
					if err := writeJSONLine(out, res); err != nil {
						return err
					}
					continue
				}
				rows = append(rows, []string{res.Input, res.Unit, strconv.FormatInt(res.Millis, 10), orDash(res.Time)})
			}
			if !jsonOutput(cmd) {
				if err := writeTable(out, []string{"INPUT", "UNIT", "MS", "UTC"}, rows); err != nil {
					return err
				}
			}
			if invalid > 0 {
				return &ExitError{Code: ExitCodeFailure, Err: fmt.Errorf("%d of %d timestamps invalid", invalid, len(args))}
			}
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <message>",
		Short: "Check a GM message against the send rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			err := validate.Text(body)
			if jsonOutput(cmd) {
				res := map[string]any{
					"valid":      err == nil,
					"remaining":  validate.Remaining(body),
					"near_limit": validate.NearLimit(body),
				}
				if err != nil {
					res["error"] = err.Error()
				}
				if werr := writeJSONLine(out, res); werr != nil {
					return werr
				}
			} else if err == nil {
				fmt.Fprintf(out, "OK (%d characters left)\n", validate.Remaining(body))
				if validate.NearLimit(body) {
					fmt.Fprintln(out, "Warning: close to the length limit.")
				}
			}
			if err != nil {
				return &ExitError{Code: ExitCodeFailure, Err: err}
			}
			return nil
		},
	}
}
