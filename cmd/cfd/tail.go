package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/contestfeed/internal/client"
	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/ui"
)

var tailCmd = &cobra.Command{
	Use:     "tail <contest>",
	Short:   "Follow a contest's event feed",
	GroupID: "feed",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		types, _ := cmd.Flags().GetStringSlice("types")
		strict, _ := cmd.Flags().GetBool("strict")
		noStream, _ := cmd.Flags().GetBool("no-stream")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := &client.TailRequest{
			ContestID: args[0],
			SinceID:   since,
			Types:     types,
			Strict:    strict,
			NoStream:  noStream,
		}
		out := cmd.OutOrStdout()
		n := 0
		err := feedClient.Tail(ctx, req, func(r feed.Record) error {
			if err := printRecord(out, r); err != nil {
				return err
			}
			n++
			if limit > 0 && n >= limit {
				return client.ErrStop
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("tailing feed: %w", err)
		}
		return nil
	},
}

// printRecord writes r as its raw NDJSON line with --json, or as a
// colored summary line otherwise.
func printRecord(w io.Writer, r feed.Record) error {
	if jsonOutput {
		line, err := r.MarshalLine()
		if err != nil {
			return err
		}
		_, err = w.Write(line)
		return err
	}
	data, err := r.Data.MarshalJSON()
	if err != nil {
		return err
	}
	var at string
	if r.Time != nil {
		at = model.FormatAbsTime(time.Time(*r.Time))
	}
	_, err = fmt.Fprintln(w, ui.FormatRecord(r.ID, string(r.Type), string(r.Op), at, data))
	return err
}

func init() {
	tailCmd.Flags().String("since", "", "resume after this event id")
	tailCmd.Flags().StringSlice("types", nil, "only these endpoint types (comma-separated)")
	tailCmd.Flags().Bool("strict", false, "strip non-standard fields")
	tailCmd.Flags().Bool("no-stream", false, "exit once the backlog is delivered")
	tailCmd.Flags().Int("limit", 0, "stop after this many records")
}
