package cmd

import (
	"github.com/spf13/cobra"

	"auditlog/internal/audit"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		eventType  string
		outcome    string
		suspicious string
		search     string
		limit      int
		offset     int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit events, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, log, err := root.openStore(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer backend.Close()

			svc, err := audit.NewService(backend, audit.WithServiceLogger(log))
			if err != nil {
				return err
			}

			f := audit.Filter{
				EventType: audit.EventType(eventType),
				Outcome:   audit.Outcome(outcome),
				Search:    search,
			}
			if cmd.Flags().Changed("suspicious") {
				v := suspicious == "true"
				f.Suspicious = &v
			}
			result, err := svc.Query(ctx, f, audit.Page{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type, e.g. LOGIN_FAILURE")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: success, failure or blocked")
	cmd.Flags().StringVar(&suspicious, "suspicious", "", `"true" for flagged events only; any other value for unflagged`)
	cmd.Flags().StringVar(&search, "search", "", "substring of user email, IP address or endpoint")
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultQueryLimit, "page size (max 200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print audit rollups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, log, err := root.openStore(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer backend.Close()

			svc, err := audit.NewService(backend, audit.WithServiceLogger(log))
			if err != nil {
				return err
			}
			summary, err := svc.Stats(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}
