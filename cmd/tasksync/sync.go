package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass against the remote",
		Long: `Fetch remote tasks and folders, merge them into the local replica and
replay queued changes. Exits non-zero when offline or when the fetch fails;
individual operations that fail stay queued for the next pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.ForceSync(cmd.Context())
				if res := r.Data; res != nil {
					fmt.Fprintf(stdout(cmd), "fetched %d, replayed %d, failed %d, parked %d, deferred %d in %s\n",
						res.Fetched, res.Succeeded, res.Failed, res.Parked, res.Deferred, res.Duration.Round(1e6))
				}
				return r.Err()
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show synchronizer and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.SyncStatus()
				if err := r.Err(); err != nil {
					return err
				}
				st := r.Data
				return render(stdout(cmd), output, st, func(tw *tabwriter.Writer) {
					lastSync := "never"
					if st.LastSync != nil {
						lastSync = humanize.Time(*st.LastSync)
					}
					fmt.Fprintf(tw, "User:\t%s\n", a.session.UserID())
					fmt.Fprintf(tw, "Online:\t%t\n", st.Online)
					fmt.Fprintf(tw, "State:\t%s\n", st.State)
					fmt.Fprintf(tw, "Last sync:\t%s\n", lastSync)
					fmt.Fprintf(tw, "Queued:\t%d (%d parked)\n", st.Queue.Total, st.Queue.Parked)
					fmt.Fprintf(tw, "Last error:\t%s\n", orDash(st.LastError))
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json, yaml)")
	return cmd
}
