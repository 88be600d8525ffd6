package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var extractItems bool

var extractCmd = &cobra.Command{
	Use:   "extract <file.xlsx|file.txt|url>",
	Short: "Extract line items from one document synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Source.Load(ctx, args[0])
		if err != nil {
			return err
		}

		summary, err := env.Pipeline.Extract(ctx, doc.Name, doc.Text)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if !extractItems {
			return enc.Encode(summary)
		}
		items, err := env.Store.ListItems(ctx, summary.JobID)
		if err != nil {
			return eris.Wrap(err, "list items")
		}
		return enc.Encode(map[string]any{"summary": summary, "items": items})
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractItems, "items", false, "print extracted items with the summary")
	rootCmd.AddCommand(extractCmd)
}
