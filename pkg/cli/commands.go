package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newExecuteCmd(opts *rootOptions) *cobra.Command {
	var (
		label      string
		paramsJSON string
	)
	cmd := &cobra.Command{
		Use:   "execute <table> <command-type>",
		Short: "Run a command against a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}
			res, err := opts.client().ExecuteCommand(cmd.Context(), args[0], args[1], label, params)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s (command %s)\n", args[1], res.CommandID)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the timeline")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "Command parameters as a JSON object")
	return cmd
}

func newUndoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <table>",
		Short: "Reverse the table's most recent command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Undo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK undo")
			return nil
		},
	}
}

func newRedoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redo <table>",
		Short: "Re-apply the table's most recently undone command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Redo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK redo")
			return nil
		},
	}
}

func newTimelineCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <table>",
		Short: "Show the table's command timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Timeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			for i, rec := range res.Records {
				marker := " "
				if i == res.Position-1 {
					marker = "*"
				}
				disabled := ""
				if rec.UndoDisabled {
					disabled = " [undo disabled]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %2d  tier %d  %-20s %s%s\n",
					marker, i+1, rec.Tier, rec.CommandType, rec.Label, disabled)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "position: %d of %d\n", res.Position, len(res.Records))
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <table>",
		Short: "Show the table's persisted audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := opts.client().History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			for _, e := range entries {
				at := time.UnixMilli(e.ExecutedAt).UTC().Format(time.RFC3339)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-7s %-6s %-20s %s\n",
					at, e.Action, e.Status, e.CommandType, e.Label)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return (0 for server default)")
	return cmd
}

func newCommandsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the command types the server supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := opts.client().CommandTypes(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), types)
			}
			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}
