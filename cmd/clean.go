package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/prepfetch/internal/filesystem"
	"github.com/NamanBalaji/prepfetch/internal/ledger"
)

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean PATH",
		Short: "Discard the partial download of PATH",
		Long:  "Remove PATH.part and PATH.ledger so the next download of PATH starts from scratch.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := args[0]
			fs := filesystem.NewOSFileSystem()
			ledgerPath := filesystem.LedgerPath(dest)

			exists, err := fs.FileExists(ledgerPath)
			if err != nil {
				return err
			}

			if exists {
				// Taking the lock refuses to clean a download that is still running.
				store, err := ledger.Open(ledgerPath, 100*time.Millisecond)
				if err != nil {
					return err
				}

				if err := store.Close(); err != nil {
					return err
				}
			}

			removed := 0

			for _, path := range []string{filesystem.TempPath(dest), ledgerPath} {
				ok, err := fs.FileExists(path)
				if err != nil {
					return err
				}

				if !ok {
					continue
				}

				if err := fs.DeleteFile(path); err != nil {
					return err
				}

				fmt.Fprintln(a.stdout, successStyle.Render("removed "+path))
				removed++
			}

			if removed == 0 {
				fmt.Fprintln(a.stdout, detailStyle.Render("nothing to clean for "+dest))
			}

			return nil
		},
	}
}
