package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treestore/treestore/internal/augmented"
	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/log"
	"github.com/treestore/treestore/internal/store"
)

var deriveRepoDir string

var deriveCmd = &cobra.Command{
	Use:   "derive <tree-id>",
	Short: "Derive the augmented manifest for a tree",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := hash.IDFromHex(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid tree id: %v\n", err)
			os.Exit(1)
		}
		repo, err := store.OpenRepo(deriveRepoDir, log.WithComponent("store"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
			os.Exit(1)
		}
		deriver := augmented.NewDeriver(repo.Store(), log.WithComponent("augmented"))
		blob, err := deriver.Derive(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive failed: %v\n", err)
			os.Exit(1)
		}
		if blob == nil {
			fmt.Fprintln(os.Stderr, "derive incomplete: prerequisite blobs missing")
			os.Exit(1)
		}
		os.Stdout.Write(blob)
	},
}

func init() {
	deriveCmd.Flags().StringVar(&deriveRepoDir, "repo", ".", "repository directory")
}
