package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/mnemo/internal/engine"
	"github.com/felixgeelhaar/mnemo/internal/record"
)

var (
	searchMode  string
	searchType  string
	searchTags  []string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search records by substring or meaning",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		results, err := e.Search(ctx, engine.SearchRequest{
			Query: args[0],
			Mode:  engine.SearchMode(searchMode),
			Type:  record.Type(searchType),
			Tags:  searchTags,
			Limit: searchLimit,
		})
		if err != nil {
			fmt.Printf("Failed to search: %v\n", err)
			os.Exit(1)
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return
		}
		for _, r := range results {
			fmt.Printf("%.2f  ", r.Similarity)
			printRecord(r.Record)
		}
	},
}

func init() {
	RootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "exact", "Search mode (exact, semantic, hybrid)")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "Restrict to a record type")
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "Required tag (repeatable, ANDed)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
}
