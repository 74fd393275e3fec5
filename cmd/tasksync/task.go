package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
)

const dueDateLayout = "2006-01-02"

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, list and complete tasks",
	}
	cmd.AddCommand(newTaskAddCmd(opts))
	cmd.AddCommand(newTaskListCmd(opts))
	cmd.AddCommand(newTaskDoneCmd(opts))
	cmd.AddCommand(newTaskRmCmd(opts))
	return cmd
}

func newTaskAddCmd(opts *rootOptions) *cobra.Command {
	var (
		folderID    string
		description string
		priority    string
		status      string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a task in a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.TaskInput{
				Title:       args[0],
				Description: description,
				Status:      models.Status(status),
				Priority:    models.Priority(priority),
				FolderID:    folderID,
			}
			if due != "" {
				d, err := time.Parse(dueDateLayout, due)
				if err != nil {
					return apperrors.Validation(fmt.Sprintf("invalid --due %q, expected YYYY-MM-DD", due))
				}
				in.DueDate = &d
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.CreateTask(in)
				if err := resultErr(stdout(cmd), r); err != nil {
					return err
				}
				fmt.Fprintln(stdout(cmd), r.Data.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "folder id (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high (default medium)")
	cmd.Flags().StringVar(&status, "status", "", "pending, in-progress or completed (default pending)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("folder")

	return cmd
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	var (
		folderID string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks from the local replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.ListTasks()
				if folderID != "" {
					r = a.data.TasksInFolder(folderID)
				}
				if err := r.Err(); err != nil {
					return err
				}
				return render(stdout(cmd), output, r.Data, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tFOLDER\tSYNCED")
					for _, t := range r.Data {
						dueStr := "-"
						if t.DueDate != nil {
							dueStr = t.DueDate.Format(dueDateLayout)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
							t.ID, t.Title, t.Status, t.Priority, dueStr, t.FolderID, t.Sync.Synced)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "only tasks in this folder")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json, yaml)")

	return cmd
}

func newTaskDoneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done [id]",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completed := models.StatusCompleted
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.UpdateTask(args[0], models.TaskPatch{Status: &completed})
				return resultErr(stdout(cmd), r)
			})
		},
	}
}

func newTaskRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return resultErr(stdout(cmd), a.data.DeleteTask(args[0]))
			})
		},
	}
}

func newFolderCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Create, list and remove folders",
	}
	cmd.AddCommand(newFolderAddCmd(opts))
	cmd.AddCommand(newFolderListCmd(opts))
	cmd.AddCommand(newFolderRmCmd(opts))
	return cmd
}

func newFolderAddCmd(opts *rootOptions) *cobra.Command {
	var icon string

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.CreateFolder(models.FolderInput{Name: args[0], Icon: icon})
				if err := resultErr(stdout(cmd), r); err != nil {
					return err
				}
				fmt.Fprintln(stdout(cmd), r.Data.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&icon, "icon", "", "folder icon")
	return cmd
}

func newFolderListCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List folders from the local replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r := a.data.ListFolders()
				if err := r.Err(); err != nil {
					return err
				}
				return render(stdout(cmd), output, r.Data, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tNAME\tICON\tSYNCED")
					for _, f := range r.Data {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", f.ID, f.Name, orDash(f.Icon), f.Sync.Synced)
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json, yaml)")
	return cmd
}

func newFolderRmCmd(opts *rootOptions) *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a folder",
		Long: `Delete a folder. With --cascade its tasks are deleted too; otherwise the
folder must be empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return resultErr(stdout(cmd), a.data.DeleteFolder(args[0], cascade))
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete the folder's tasks")
	return cmd
}
