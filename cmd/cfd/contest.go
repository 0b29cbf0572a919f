package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/contestfeed/internal/client"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t *model.APITime) string {
	if t == nil {
		return ui.RenderMuted("-")
	}
	return model.FormatAbsTime(time.Time(*t))
}

var contestCmd = &cobra.Command{
	Use:     "contest <contest>",
	Short:   "Show a contest",
	GroupID: "contest",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contest, err := apiClient.GetContest(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting contest: %w", err)
		}
		return printJSON(contest)
	},
}

var stateCmd = &cobra.Command{
	Use:     "state <contest>",
	Short:   "Show which contest transitions have happened",
	GroupID: "contest",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := apiClient.GetState(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting state: %w", err)
		}
		if jsonOutput {
			return printJSON(state)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, row := range []struct {
			name string
			at   *model.APITime
		}{
			{model.TransitionStarted, state.Started},
			{model.TransitionFrozen, state.Frozen},
			{model.TransitionEnded, state.Ended},
			{model.TransitionThawed, state.Thawed},
			{model.TransitionFinalized, state.Finalized},
			{model.TransitionEndOfUpdates, state.EndOfUpdates},
		} {
			fmt.Fprintf(w, "%s:\t%s\n", row.name, formatTime(row.at))
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <contest>",
	Short:   "Show submission and judging counts",
	GroupID: "contest",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient.GetStatus(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting status: %w", err)
		}
		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("Submissions: %d\n", stats.NumSubmissions)
		fmt.Printf("Queued:      %d\n", stats.NumQueued)
		fmt.Printf("Judging:     %d\n", stats.NumJudging)
		return nil
	},
}

var startTimeCmd = &cobra.Command{
	Use:     "start-time <contest> [time]",
	Short:   "Set or pause a contest's start time",
	Long:    "Sets the contest start time. Without a time the countdown is paused.",
	GroupID: "contest",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		req := &client.SetStartTimeRequest{ContestID: args[0], Force: force}
		if len(args) == 2 {
			req.StartTime = &args[1]
		}
		msg, err := apiClient.SetStartTime(context.Background(), req)
		if err != nil {
			return fmt.Errorf("setting start time: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"message": msg})
		}
		fmt.Println(msg)
		return nil
	},
}

var feedsCmd = &cobra.Command{
	Use:     "feeds",
	Short:   "List open feed sessions",
	GroupID: "feed",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		contest, _ := cmd.Flags().GetString("contest")
		resp, err := apiClient.ListFeeds(context.Background(), contest)
		if err != nil {
			return fmt.Errorf("listing feeds: %w", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if resp.Count == 0 {
			fmt.Println("no open feeds")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCONTEST\tTIER\tTRANSPORT\tCURSOR\tDELIVERED\tIDLE\tREMOTE")
		for _, e := range resp.Sessions {
			idle := fmt.Sprintf("%.0fs", e.IdleSecs)
			if e.Stalled {
				idle += " (stalled)"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
				ui.RenderAccent(e.ID), e.ContestID, e.Tier, e.Transport, e.Cursor, e.Delivered, idle, e.Remote)
		}
		return w.Flush()
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the feed service",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", status)
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	startTimeCmd.Flags().Bool("force", false, "change the start time even when the contest is about to start")
	feedsCmd.Flags().String("contest", "", "only sessions of this contest")
}
