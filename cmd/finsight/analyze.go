// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/finsight-dev/finsight/internal/pipeline"
	"github.com/finsight-dev/finsight/internal/service"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [request...]",
		Short: "Run a financial analysis",
		Long:  "Runs the full analysis pipeline for a profile. A failed run keeps its partial results and can be resumed with 'results resume'.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			age, _ := cmd.Flags().GetInt("age")
			income, _ := cmd.Flags().GetFloat64("income")
			tolerance, _ := cmd.Flags().GetString("risk-tolerance")
			horizon, _ := cmd.Flags().GetString("horizon")
			goals, _ := cmd.Flags().GetStringSlice("goal")
			sessionID, _ := cmd.Flags().GetString("session")

			result, runErr := app.Service.RunAnalysis(cmd.Context(), service.AnalysisRequest{
				SessionID: sessionID,
				Request:   strings.Join(args, " "),
				Profile: pipeline.Profile{
					Age:           age,
					Income:        income,
					RiskTolerance: tolerance,
					Horizon:       horizon,
					Goals:         goals,
				},
			})
			if result != nil {
				if err := printResult(cmd, result); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().Int("age", 35, "age of the profile holder")
	cmd.Flags().Float64("income", 0, "annual income")
	cmd.Flags().String("risk-tolerance", "moderate", "risk tolerance (conservative, moderate, aggressive)")
	cmd.Flags().String("horizon", "medium-term", "investment horizon (short-term, medium-term, long-term)")
	cmd.Flags().StringSlice("goal", nil, "financial goal (repeatable)")
	cmd.Flags().String("session", "", "session id (generated when omitted)")
	cmd.Flags().Bool("json", false, "print the full result as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, result *service.AnalysisResult) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd, result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", result.SessionID)
	if result.Blocked {
		fmt.Fprintf(out, "Blocked (risk level %s)\n", result.RiskLevel)
	} else {
		fmt.Fprintf(out, "Status:  %s\n", result.Status)
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(out, "Issue:   %s\n", issue)
	}
	if result.Report != "" {
		fmt.Fprintf(out, "\n%s\n", result.Report)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
