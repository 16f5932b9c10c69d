package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treestore/treestore/internal/blobstore"
	"github.com/treestore/treestore/internal/healer"
	"github.com/treestore/treestore/internal/log"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/store"
)

var (
	healQueuePath string
	healReplicas  []string
	healLimit     int
	healKeyPrefix string
	healDrainOnly bool
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Reconcile blob replicas through the sync queue",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.WithComponent("healer")

		queue, err := healer.OpenBoltQueue(healQueuePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open queue: %v\n", err)
			os.Exit(1)
		}
		defer queue.Close()

		stores := map[uint32]blobstore.Blobstore{}
		for i, dir := range healReplicas {
			s, err := store.Open(dir, manifest.FormatHg, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "open replica %s: %v\n", dir, err)
				os.Exit(1)
			}
			stores[uint32(i)] = blobstore.NewStoreAdapter(s)
		}

		h := healer.New(healLimit, queue, stores, healKeyPrefix, healDrainOnly, logger)
		stats, err := h.RunUntilCaughtUp(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "healing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("caught up: queue_add=%d queue_del=%d put_success=%d put_failure=%d\n",
			stats.QueueAdd, stats.QueueDel, stats.PutSuccess, stats.PutFailure)
	},
}

func init() {
	healCmd.Flags().StringVar(&healQueuePath, "queue", "sync-queue.db", "path to the durable queue database")
	healCmd.Flags().StringArrayVar(&healReplicas, "replica", nil, "replica blob directory (repeatable, ordered by id)")
	healCmd.Flags().IntVar(&healLimit, "limit", 1000, "max queue entries per batch")
	healCmd.Flags().StringVar(&healKeyPrefix, "key-prefix", "", "only heal keys with this prefix")
	healCmd.Flags().BoolVar(&healDrainOnly, "drain-only", false, "delete queue entries without healing")
}
