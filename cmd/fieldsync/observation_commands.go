package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newObservationsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "observations",
		Aliases: []string{"obs"},
		Short:   "Manage the observation queue",
	}

	cmd.AddCommand(newObservationListCommand(ctx))
	cmd.AddCommand(newObservationShowCommand(ctx))
	cmd.AddCommand(newObservationAddCommand(ctx))
	cmd.AddCommand(newObservationRetryCommand(ctx))
	cmd.AddCommand(newObservationRemoveCommand(ctx))
	cmd.AddCommand(newObservationClearCommand(ctx))

	return cmd
}

func newObservationListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued observations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				items, err := client.ListObservations(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				stdout := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(stdout, "Observation queue is empty")
					return nil
				}
				fmt.Fprintln(stdout, renderObservationTable(items, shouldColorize(stdout)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit items as JSON")
	return cmd
}

func newObservationShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one observation in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.GetObservation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				printObservation(cmd, item)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the item as JSON")
	return cmd
}

func printObservation(cmd *cobra.Command, item observationItem) {
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Observation %s\n", item.LocalID)
	fmt.Fprintf(stdout, "  Project:   %s\n", item.ProjectID)
	fmt.Fprintf(stdout, "  Title:     %s\n", item.Title)
	if item.Description != "" {
		fmt.Fprintf(stdout, "  Notes:     %s\n", item.Description)
	}
	fmt.Fprintf(stdout, "  State:     %s\n", item.State)
	if item.RemoteID != "" {
		fmt.Fprintf(stdout, "  Remote:    %s\n", item.RemoteID)
	}
	if item.LastError != "" {
		fmt.Fprintf(stdout, "  Error:     %s (retries %d)\n", item.LastError, item.RetryCount)
	}
	fmt.Fprintf(stdout, "  Uploaded:  %s of %s\n", formatSize(item.UploadedSize), formatSize(item.TotalSize))
	fmt.Fprintf(stdout, "  Created:   %s\n", formatAge(item.CreatedAt))
	if item.SyncCompletedAt != nil {
		fmt.Fprintf(stdout, "  Synced:    %s\n", formatAge(*item.SyncCompletedAt))
	}
	if len(item.Parts) > 0 {
		fmt.Fprintln(stdout, "  Media:")
		for _, part := range item.Parts {
			line := fmt.Sprintf("    %-6s %-10s %3d%%  %s", part.Type, part.State, part.Progress, part.LocalPath)
			if part.LastError != "" {
				line += "  (" + part.LastError + ")"
			}
			fmt.Fprintln(stdout, line)
		}
	}
}

func newObservationAddCommand(ctx *commandContext) *cobra.Command {
	var project string
	var description string
	var photos, videos, audio []string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a new observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := observationDraft{
				ProjectID:   project,
				Title:       strings.TrimSpace(args[0]),
				Description: description,
			}
			for _, path := range photos {
				draft.Parts = append(draft.Parts, mediaDraft{Type: "photo", Path: path})
			}
			for _, path := range videos {
				draft.Parts = append(draft.Parts, mediaDraft{Type: "video", Path: path})
			}
			for _, path := range audio {
				draft.Parts = append(draft.Parts, mediaDraft{Type: "audio", Path: path})
			}

			return ctx.withClient(func(client *apiClient) error {
				item, err := client.AddObservation(cmd.Context(), draft)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued observation %s with %d media part(s)\n", item.LocalID, len(item.Parts))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project the observation belongs to")
	cmd.Flags().StringVarP(&description, "notes", "n", "", "Free-form notes")
	cmd.Flags().StringArrayVar(&photos, "photo", nil, "Photo file to attach (repeatable)")
	cmd.Flags().StringArrayVar(&videos, "video", nil, "Video file to attach (repeatable)")
	cmd.Flags().StringArrayVar(&audio, "audio", nil, "Audio file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newObservationRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed or partial observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				item, err := client.RetryObservation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Observation %s requeued (state %s)\n", shortID(item.LocalID), item.State)
				return nil
			})
		},
	}
}

func newObservationRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an observation from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.RemoveObservation(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Observation %s removed\n", shortID(args[0]))
				return nil
			})
		},
	}
}

func newObservationClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop completed observations and reclaim their media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				cleared, err := client.ClearObservations(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed observation(s)\n", cleared)
				return nil
			})
		},
	}
}
