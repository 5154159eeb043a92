// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/device"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Report the acceleration device conversion would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		report := device.NewProber().Probe()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Fprintln(cmd.OutOrStdout(), report.String())
		if report.Detail != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", report.Detail)
		}
		return nil
	},
}

func init() {
	deviceCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(deviceCmd)
}
