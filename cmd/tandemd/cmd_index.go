package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	indexCategory string
	indexWatch    bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Chunk, compress, embed and index a file, directory, repo or URL",
	Long: `Index a source unit into the current session. The path may be a local
file or directory, a GitHub reference (owner/repo[@ref]) or a remote file URL.
Re-indexing is incremental: only files modified since the last pass are
re-chunked, and their stale chunks are evicted first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackend(cfg)
		if err != nil {
			return err
		}
		defer b.close()

		res, err := b.indexer.IndexPath(cmd.Context(), userID, sessionID, args[0], indexCategory)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %s (%s): %d chunks, %d skipped, %d stale removed\n",
			args[0], res.Filetype, res.Indexed, res.Skipped, res.Deleted)

		if indexWatch {
			fmt.Println("watching for changes (ctrl-c to stop)")
			return b.indexer.Watch(cmd.Context(), userID, sessionID, args[0], indexCategory)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexCategory, "category", "code", "parent context category")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep running and re-index on file changes")
}
