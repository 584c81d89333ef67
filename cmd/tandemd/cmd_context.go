package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var contextTopN int

var contextCmd = &cobra.Command{
	Use:   "context <prompt...>",
	Short: "Assemble the retrieval context for a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackend(cfg)
		if err != nil {
			return err
		}
		defer b.close()

		ctx, err := b.assembler.MakeContext(cmd.Context(), sessionID, strings.Join(args, " "), contextTopN)
		if err != nil {
			return err
		}
		fmt.Println(ctx)
		return nil
	},
}

func init() {
	contextCmd.Flags().IntVar(&contextTopN, "top", 5, "number of reranked context blocks to keep")
}
