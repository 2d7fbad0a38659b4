package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sonactl/internal/deps"
)

func newWhichCommand(ctx *commandContext) *cobra.Command {
	var showAll bool
	var binaryFlag string

	cmd := &cobra.Command{
		Use:   "which",
		Short: "Show which sona executable would be launched",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			explicit := cfg.Runner.Binary
			if cmd.Flags().Changed("binary") {
				explicit = strings.TrimSpace(binaryFlag)
			}
			stdout := cmd.OutOrStdout()

			if showAll {
				search := deps.DefaultSearch()
				rows := make([][]string, 0, 5)
				for i, c := range search.Candidates() {
					rows = append(rows, []string{fmt.Sprint(i + 1), string(c.Tier), c.Path})
				}
				rows = append(rows, []string{fmt.Sprint(len(rows) + 1), string(deps.TierPath), deps.ExecutableName(deps.ServerName, "")})
				fmt.Fprint(stdout, renderTable([]tableColumn{
					{header: "#", align: alignRight},
					{header: "Tier"},
					{header: "Candidate"},
				}, rows))
				if explicit != "" {
					fmt.Fprintf(stdout, "explicit binary configured: %s (search skipped)\n", explicit)
				}
			}

			path, err := deps.ResolveServer(explicit)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "List every search location in priority order")
	cmd.Flags().StringVar(&binaryFlag, "binary", "", "Check an explicit path instead of the configured one")
	return cmd
}
