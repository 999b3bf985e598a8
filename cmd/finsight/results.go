// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect, resume, and clear stored analysis runs",
	}

	cmd.AddCommand(
		newResultsListCmd(),
		newResultsGetCmd(),
		newResultsResumeCmd(),
		newResultsDeactivateCmd(),
		newResultsClearCmd(),
	)

	return cmd
}

func newResultsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			records, err := app.Service.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored sessions")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %d stages  %s\n",
					rec.SessionID, rec.Status, rec.Stages, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newResultsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [session-id]",
		Short: "Print one session's full run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			run, err := app.Service.GetResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func newResultsResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a failed run from its last incomplete stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			result, runErr := app.Service.ResumeAnalysis(cmd.Context(), args[0])
			if result != nil {
				if err := printResult(cmd, result); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().Bool("json", false, "print the full result as JSON")
	return cmd
}

func newResultsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate [session-id]",
		Short: "Mark a session inactive without removing its stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if err := app.Service.DeactivateSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated session %q\n", args[0])
			return nil
		},
	}
}

func newResultsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [session-id]",
		Short: "Remove stored runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if !all && len(args) == 0 {
				return fmt.Errorf("provide a session id or --all")
			}

			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if all {
				removed, err := app.Service.ClearAllResults(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stored runs\n", removed)
				return nil
			}

			if err := app.Service.ClearResults(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "remove every stored run")
	return cmd
}
