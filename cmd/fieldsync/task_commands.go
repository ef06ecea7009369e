package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the voice task queue",
	}

	cmd.AddCommand(newTaskListCommand(ctx))
	cmd.AddCommand(newTaskShowCommand(ctx))
	cmd.AddCommand(newTaskAddCommand(ctx))
	cmd.AddCommand(newTaskAcceptCommand(ctx))
	cmd.AddCommand(newTaskRetryCommand(ctx))
	cmd.AddCommand(newTaskRemoveCommand(ctx))
	cmd.AddCommand(newTaskClearCommand(ctx))

	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued voice tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				items, err := client.ListTasks(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				stdout := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(stdout, "Task queue is empty")
					return nil
				}
				fmt.Fprintln(stdout, renderTaskTable(items, shouldColorize(stdout)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit items as JSON")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one voice task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				printTask(cmd, item)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the item as JSON")
	return cmd
}

func printTask(cmd *cobra.Command, item taskItem) {
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Task %s\n", item.LocalID)
	fmt.Fprintf(stdout, "  Project:    %s\n", item.ProjectID)
	fmt.Fprintf(stdout, "  State:      %s\n", item.State)
	fmt.Fprintf(stdout, "  Recording:  %s\n", item.AudioPath)
	if item.Transcription != "" {
		fmt.Fprintf(stdout, "  Machine:    %s\n", item.Transcription)
	}
	if item.EditedTranscription != "" {
		fmt.Fprintf(stdout, "  Reviewed:   %s\n", item.EditedTranscription)
	}
	if item.RemoteID != "" {
		fmt.Fprintf(stdout, "  Remote:     %s\n", item.RemoteID)
	}
	if item.LastError != "" {
		fmt.Fprintf(stdout, "  Error:      %s (retries %d)\n", item.LastError, item.RetryCount)
	}
	fmt.Fprintf(stdout, "  Created:    %s\n", formatAge(item.CreatedAt))
	if item.SyncCompletedAt != nil {
		fmt.Fprintf(stdout, "  Synced:     %s\n", formatAge(*item.SyncCompletedAt))
	}
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "add <recording>",
		Short: "Queue a voice recording for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.AddTask(cmd.Context(), taskDraft{
					ProjectID: project,
					AudioPath: args[0],
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s\n", item.LocalID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project the task belongs to")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newTaskAcceptCommand(ctx *commandContext) *cobra.Command {
	var transcription string

	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Approve a reviewed transcription for delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.AcceptTask(cmd.Context(), args[0], transcription)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s accepted for delivery\n", shortID(item.LocalID))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&transcription, "text", "t", "", "Replace the machine transcription with this text")
	return cmd
}

func newTaskRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed voice task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.RetryTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s requeued (state %s)\n", shortID(item.LocalID), item.State)
				return nil
			})
		},
	}
}

func newTaskRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a voice task from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.RemoveTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s removed\n", shortID(args[0]))
				return nil
			})
		},
	}
}

func newTaskClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop completed voice tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				cleared, err := client.ClearTasks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed task(s)\n", cleared)
				return nil
			})
		},
	}
}
