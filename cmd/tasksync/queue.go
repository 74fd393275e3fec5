package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/models"
)

// queueRow is the printable form of a queued mutation.
type queueRow struct {
	ID         string    `json:"id" yaml:"id"`
	Operation  string    `json:"operation" yaml:"operation"`
	EntityID   string    `json:"entityId" yaml:"entityId"`
	EnqueuedAt time.Time `json:"enqueuedAt" yaml:"enqueuedAt"`
	RetryCount int       `json:"retryCount" yaml:"retryCount"`
	MaxRetries int       `json:"maxRetries" yaml:"maxRetries"`
	Parked     bool      `json:"parked" yaml:"parked"`
	LastError  string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Payload    string    `json:"payload" yaml:"payload"`
}

func toQueueRows(items []models.QueueItem) []queueRow {
	rows := make([]queueRow, 0, len(items))
	for i := range items {
		item := &items[i]
		rows = append(rows, queueRow{
			ID:         item.ID,
			Operation:  string(item.Operation),
			EntityID:   item.EntityID,
			EnqueuedAt: item.EnqueuedAt,
			RetryCount: item.RetryCount,
			MaxRetries: item.MaxRetries,
			Parked:     item.Parked(),
			LastError:  item.LastError,
			Payload:    string(item.Payload),
		})
	}
	return rows
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued changes",
	}
	cmd.AddCommand(newQueueListCmd(opts))
	cmd.AddCommand(newQueueAckCmd(opts))
	cmd.AddCommand(newQueueRetryCmd(opts))
	return cmd
}

func newQueueListCmd(opts *rootOptions) *cobra.Command {
	var (
		parked bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued changes in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.PendingOperations()
				if parked {
					r = a.data.ParkedOperations()
				}
				if err := r.Err(); err != nil {
					return err
				}
				rows := toQueueRows(r.Data)
				return render(stdout(cmd), output, rows, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tOPERATION\tENTITY\tQUEUED\tRETRIES\tLAST ERROR")
					for _, row := range rows {
						retries := fmt.Sprintf("%d/%d", row.RetryCount, row.MaxRetries)
						if row.Parked {
							retries += " parked"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
							row.ID, row.Operation, row.EntityID, humanize.Time(row.EnqueuedAt), retries, orDash(row.LastError))
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&parked, "parked", false, "only items that exhausted their retries")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json, yaml)")

	return cmd
}

func newQueueAckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack [id]",
		Short: "Discard a parked change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return a.data.AcknowledgeParked(args[0]).Err()
			})
		},
	}
}

func newQueueRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id]",
		Short: "Make a parked change eligible for replay again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return a.data.RequeueParked(args[0]).Err()
			})
		},
	}
}
