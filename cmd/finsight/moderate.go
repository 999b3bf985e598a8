// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newModerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderate [text...]",
		Short: "Run text through the moderation gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			direction, _ := cmd.Flags().GetString("direction")
			verdict, err := app.Service.CheckModeration(strings.Join(args, " "), direction)
			if err != nil {
				return err
			}
			return printJSON(cmd, verdict)
		},
	}

	cmd.Flags().String("direction", "input", "moderation direction (input or output)")
	return cmd
}
