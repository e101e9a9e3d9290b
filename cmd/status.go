package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/prepfetch/internal/engine"
	"github.com/NamanBalaji/prepfetch/internal/progress"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last published download status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(a.cfg.BaseDir, progress.StatusFileName)

			snap, err := progress.Load(path)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no download status published in %s", a.cfg.BaseDir)
				}

				return err
			}

			fmt.Fprintln(a.stdout, renderSnapshot(snap))

			if code := engine.SnapshotExitCode(snap); code != engine.ExitOK {
				return &exitError{code: code}
			}

			return nil
		},
	}
}
