package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/capstream/pkg/capstream/session"
)

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCursorsCmd, sessionsRecoverCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every session in the checkpoint store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := mgr.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tCREATED\tDURATION\tERROR")
		for _, r := range records {
			duration := "-"
			if r.ClosedAt != nil {
				duration = r.ClosedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Name, r.State, humanize.Time(r.CreatedAt), duration, r.Error)
		}
		return w.Flush()
	},
}

var sessionsCursorsCmd = &cobra.Command{
	Use:   "cursors <session-id>",
	Short: "Show the delivery cursor of every sink of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		cursors, err := mgr.Cursors(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SINK\tLAST ID\tDELIVERED\tLOST\tDEGRADED\tDETACHED\tFINAL\tUPDATED")
		for _, c := range cursors {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%t\t%t\t%s\n",
				c.Sink, c.LastID, humanize.Comma(int64(c.Delivered)), c.Lost,
				c.Degraded, c.Detached, c.Final, humanize.Time(c.UpdatedAt))
		}
		return w.Flush()
	},
}

var sessionsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark sessions left running by a crashed process as failed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		recovered, err := mgr.Recover()
		if err != nil {
			return err
		}
		for _, r := range recovered {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): failed, %s\n", r.ID, r.Name, session.ProcessTerminated)
		}
		if len(recovered) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to recover.")
		}
		return nil
	},
}

func openManager() (*session.Manager, func(), error) {
	p, logger, err := loadPipeline()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(p)
	if err != nil {
		return nil, nil, err
	}
	mgr := session.NewManager(session.ManagerConfig{Store: store, Logger: logger})
	return mgr, func() { _ = store.Close() }, nil
}
