package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/mnemo/internal/record"
)

var (
	saveType   string
	saveTags   []string
	loadKey    string
	loadType   string
	loadTags   []string
	loadLimit  int
	deleteKey  string
	deleteTags []string
)

var saveCmd = &cobra.Command{
	Use:   "save [key] [value]",
	Short: "Save a record (upserts by key)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		id, err := e.Save(ctx, args[0], []byte(args[1]), record.Type(saveType), saveTags, nil)
		if err != nil {
			fmt.Printf("Failed to save: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved %s (%s)\n", args[0], id)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load records by key, type or tags",
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		recs, err := e.Load(ctx, record.Filter{
			Key:   loadKey,
			Type:  record.Type(loadType),
			Tags:  loadTags,
			Limit: loadLimit,
		})
		if err != nil {
			fmt.Printf("Failed to load: %v\n", err)
			os.Exit(1)
		}
		if len(recs) == 0 {
			fmt.Println("No records found.")
			return
		}
		for _, rec := range recs {
			printRecord(rec)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete records by key or tags",
	Run: func(cmd *cobra.Command, args []string) {
		if deleteKey == "" && len(deleteTags) == 0 {
			fmt.Println("Refusing to delete everything: pass --key or --tag.")
			os.Exit(1)
		}

		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		n, err := e.Delete(ctx, record.Filter{Key: deleteKey, Tags: deleteTags})
		if err != nil {
			fmt.Printf("Failed to delete: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d record(s)\n", n)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		stats, err := e.Stats(ctx)
		if err != nil {
			fmt.Printf("Failed to read stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Records: %d\n", stats.Total)
		for typ, count := range stats.ByType {
			fmt.Printf("  %s: %d\n", typ, count)
		}
		fmt.Printf("Tags: %d\n", stats.TotalTags)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay pending write-ahead log entries",
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()

		ctx := context.Background()
		e := getEngine(ctx, obs)
		defer e.Close()

		applied, err := e.Replay(ctx)
		if err != nil {
			fmt.Printf("Failed to replay: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Replayed %d entries\n", applied)
	},
}

func printRecord(rec record.Record) {
	fmt.Printf("%s [%s]", rec.Key, rec.Type)
	if len(rec.Tags) > 0 {
		fmt.Printf(" (%s)", strings.Join(rec.Tags, ", "))
	}
	fmt.Printf("\n  %s\n", rec.Value)
}

func init() {
	RootCmd.AddCommand(saveCmd)
	RootCmd.AddCommand(loadCmd)
	RootCmd.AddCommand(deleteCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(replayCmd)

	saveCmd.Flags().StringVarP(&saveType, "type", "t", "custom", "Record type (conversation, knowledge, goal, task, decision, custom)")
	saveCmd.Flags().StringSliceVar(&saveTags, "tag", nil, "Tag (repeatable)")

	loadCmd.Flags().StringVarP(&loadKey, "key", "k", "", "Exact key")
	loadCmd.Flags().StringVarP(&loadType, "type", "t", "", "Record type")
	loadCmd.Flags().StringSliceVar(&loadTags, "tag", nil, "Required tag (repeatable, ANDed)")
	loadCmd.Flags().IntVarP(&loadLimit, "limit", "n", 0, "Maximum number of records")

	deleteCmd.Flags().StringVarP(&deleteKey, "key", "k", "", "Exact key")
	deleteCmd.Flags().StringSliceVar(&deleteTags, "tag", nil, "Required tag (repeatable, ANDed)")
}
