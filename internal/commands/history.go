package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"botlauncher/internal/database"
	"botlauncher/internal/utils"
)

func (a *app) historyCommand() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded launches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := utils.ParseSince(since, time.Now())
			if err != nil {
				return err
			}

			launches, stats, err := a.launcher().History(from)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(launches) == 0 {
				fmt.Fprintln(out, "no launches recorded")
			} else {
				fmt.Fprintln(out, launchTable(launches))
			}
			fmt.Fprintf(out, "total launches: %v, last: %v\n", stats["total_launches"], stats["last_launch"])
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", `only show launches after this time, e.g. "2 days ago" or "2025-06-01"`)
	return cmd
}

func launchTable(launches []database.Launch) *table.Table {
	rows := make([][]string, 0, len(launches))
	for _, l := range launches {
		rows = append(rows, []string{
			strconv.Itoa(l.ID),
			l.StartedAt.Local().Format(time.DateTime),
			l.PythonVersion,
			l.EntryModule,
			l.Root,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STARTED", "PYTHON", "MODULE", "ROOT").
		Rows(rows...)
}
