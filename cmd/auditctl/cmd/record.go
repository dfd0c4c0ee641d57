package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"auditlog/internal/audit"
	"auditlog/internal/audit/alert"
	"auditlog/internal/auth/secrets"
)

func newRecordCmd(root *rootOptions) *cobra.Command {
	var (
		eventType string
		outcome   string
		ip        string
		email     string
		role      string
		userAgent string
		endpoint  string
		method    string
		metadata  string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append one event through the normal recording path",
		Long: `Append one event. It is classified by the same detector the server uses,
so repeated LOGIN_FAILURE records can come back suspicious.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, log, err := root.openStore(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer backend.Close()

			rec, err := audit.NewRecorder(backend,
				audit.WithRecorderLogger(log),
				audit.WithAlertPublisher(alert.Noop{}),
			)
			if err != nil {
				return err
			}
			entry := audit.Entry{
				EventType: audit.EventType(eventType),
				Outcome:   audit.Outcome(outcome),
				UserEmail: email,
				UserRole:  role,
				Identity: &audit.Identity{
					IP:        ip,
					UserAgent: userAgent,
					Endpoint:  endpoint,
					Method:    method,
				},
			}
			if metadata != "" {
				entry.Metadata = json.RawMessage(metadata)
			}
			event, stored, err := rec.RecordEvent(ctx, entry)
			if err != nil {
				return err
			}
			if !stored {
				return errors.New("event was not stored; see the log output")
			}
			return writeJSON(cmd.OutOrStdout(), event)
		},
	}
	cmd.Flags().StringVar(&eventType, "event-type", "", "event type (required)")
	cmd.Flags().StringVar(&outcome, "outcome", string(audit.OutcomeSuccess), "success, failure or blocked")
	cmd.Flags().StringVar(&ip, "ip", "", `client IP; empty records "unknown"`)
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&role, "role", "", "user role")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "client user agent")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "request path")
	cmd.Flags().StringVar(&method, "method", "", "HTTP method")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON document stored verbatim")
	_ = cmd.MarkFlagRequired("event-type")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for the users file",
		Long:  `Print a bcrypt hash. Reads the password from stdin when no argument is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(string(raw), "\r\n")
			}
			hash, err := secrets.Hash(password, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}
