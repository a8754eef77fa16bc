package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docutag/lincat/models"
)

func newCategorizeCommand(c *cli) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "categorize <input...>",
		Short: "Categorize one URL or note and print the stored link",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			link, err := a.categorizer.Categorize(ctx, owner, strings.Join(args, " "))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(link)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", models.LocalOwner, "owner the link is stored for")
	return cmd
}
