package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treestore/treestore/internal/log"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/store"
)

var initGit bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a repository store",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		format := manifest.FormatHg
		if initGit {
			format = manifest.FormatGit
		}
		repo, err := store.InitRepo(dir, format, log.WithComponent("store"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("initialized %s store in %s\n", repo.Format(), repo.Dir())
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [dir-or-url]",
	Short: "Show repository store information",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		if dir, ok := store.URLToDir(target); ok {
			target = dir
		}
		repo, err := store.OpenRepo(target, log.WithComponent("store"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("dir:    %s\n", repo.Dir())
		fmt.Printf("format: %s\n", repo.Format())
		bookmarks, err := repo.Bookmarks()
		if err != nil {
			fmt.Fprintf(os.Stderr, "bookmarks: %v\n", err)
			os.Exit(1)
		}
		for name, id := range bookmarks {
			fmt.Printf("bookmark %s = %s\n", name, id)
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGit, "git", false, "use git blob framing")
}
