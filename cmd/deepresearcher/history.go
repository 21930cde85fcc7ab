package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagTopK       int
	flagLimit      int
	flagKeepRecent int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored research sessions",
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find past sessions similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.SearchSimilar(cmd.Context(), strings.Join(args, " "), flagTopK)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No similar sessions found.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f  %s  %s  %s\n",
				e.Similarity, e.ID, e.StoredAt.Format("2006-01-02 15:04"), e.Topic)
		}
		return nil
	},
}

var historyRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions stored yet.")
			return nil
		}
		for _, e := range entries {
			marker := " "
			if e.Degraded {
				marker = "!"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s  loops=%d sources=%d  %s\n",
				marker, e.ID, e.StoredAt.Format("2006-01-02 15:04"), e.LoopCount, len(e.Sources), e.Topic)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the full report of a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		entry, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("no session with id %s", args[0])
		}
		return printReport(cmd, entry.Report)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		deleted, err := store.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("no session with id %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sessions:      %d\n", stats.Sessions)
		fmt.Fprintf(cmd.OutOrStdout(), "With vectors:  %d\n", stats.WithVectors)
		if stats.Sessions > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Oldest stored: %s\n", stats.OldestStored.Format(time.RFC3339))
			fmt.Fprintf(cmd.OutOrStdout(), "Newest stored: %s\n", stats.NewestStored.Format(time.RFC3339))
		}
		return nil
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete all but the most recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Cleanup(cmd.Context(), flagKeepRecent)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d sessions.\n", n)
		return nil
	},
}

func init() {
	historySearchCmd.Flags().IntVar(&flagTopK, "top", 5, "number of results to return")
	historyRecentCmd.Flags().IntVar(&flagLimit, "limit", 10, "number of sessions to list")
	historyCleanupCmd.Flags().IntVar(&flagKeepRecent, "keep", 100, "number of most recent sessions to keep")

	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyRecentCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyCleanupCmd)
}
