package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				fmt.Fprintln(stdout, sectionHeader("Daemon", colorize))
				runningTone := toneBad
				if status.Running {
					runningTone = toneGood
				}
				fmt.Fprintln(stdout, detailLine("Running", yesNo(status.Running), runningTone, colorize))
				fmt.Fprintln(stdout, detailLine("Connection", status.Connection, connectionTone(status.Connection), colorize))
				fmt.Fprintln(stdout, detailLine("API", status.APIAddr, toneNeutral, colorize))
				fmt.Fprintln(stdout)

				printFamily(stdout, "Observations", status.Observations, colorize)
				fmt.Fprintln(stdout)
				printFamily(stdout, "Voice Tasks", status.Tasks, colorize)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	return cmd
}

func printFamily(stdout io.Writer, title string, family familyStatus, colorize bool) {
	fmt.Fprintln(stdout, sectionHeader(title, colorize))
	syncingTone := toneNeutral
	if family.Syncing {
		syncingTone = toneGood
	}
	fmt.Fprintln(stdout, detailLine("Syncing", yesNo(family.Syncing), syncingTone, colorize))
	fmt.Fprintln(stdout, detailLine("Pending", fmt.Sprintf("%d", family.Pending), toneNeutral, colorize))
	fmt.Fprintln(stdout, detailLine("Actionable", fmt.Sprintf("%d", family.Actionable), toneNeutral, colorize))

	states := make([]string, 0, len(family.States))
	for state := range family.States {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintln(stdout, detailLine(state, fmt.Sprintf("%d", family.States[state]), stateTone(state), colorize))
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger a sync pass on both queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				result, err := client.Sync(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Observations sync started: %s\n", yesNo(result.ObservationsStarted))
				fmt.Fprintf(stdout, "Tasks sync started:        %s\n", yesNo(result.TasksStarted))
				return nil
			})
		},
	}
}

func newNetworkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "network <offline|wifi|cellular>",
		Short: "Report the device's network connection to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.SetNetwork(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connection set to %s\n", args[0])
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.TestNotification(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
}
