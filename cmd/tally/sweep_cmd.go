package main

import (
	"time"

	"github.com/spf13/cobra"
)

type sweepOutput struct {
	Command      string        `json:"command"`
	DurationMS   int64         `json:"duration_ms"`
	AutoApproved int           `json:"auto_approved"`
	Retried      int           `json:"retried"`
	Errors       []sweepFailed `json:"errors"`
}

type sweepFailed struct {
	ChangeRequestID string `json:"change_request_id"`
	Error           string `json:"error"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			start := time.Now()
			result, err := rt.workflow(nil).SweepExpired(cmd.Context())
			if err != nil {
				return err
			}

			out := sweepOutput{
				Command:      "sweep",
				DurationMS:   time.Since(start).Milliseconds(),
				AutoApproved: result.AutoApproved,
				Retried:      result.Retried,
				Errors:       make([]sweepFailed, 0, len(result.Errors)),
			}
			for _, failure := range result.Errors {
				out.Errors = append(out.Errors, sweepFailed{ChangeRequestID: failure.RequestID, Error: failure.Err.Error()})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	return cmd
}
