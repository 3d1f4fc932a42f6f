// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/autobrr/autorules/internal/models"
)

func RunArchivedCommand(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "archived",
		Short: "List downloads removed by archive rules, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := models.NewArchiveStore(a.db).List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(items) == 0 {
				cmd.Println("Nothing archived yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ARCHIVED\tNAME\tSIZE\tTRACKER\tHASH")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					item.ArchivedAt.Format(time.DateTime), item.Name, humanize.IBytes(uint64(max(item.Size, 0))), item.Tracker, item.ItemID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records to show")
	return cmd
}
