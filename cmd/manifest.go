package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/prepfetch/internal/engine"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/manifest"
)

func newManifestCmd(a *app) *cobra.Command {
	var (
		modules         []string
		all             bool
		show            bool
		continueOnError bool
		sequential      bool
	)

	cmd := &cobra.Command{
		Use:   "manifest SOURCE",
		Short: "Download modules described by a distribution manifest",
		Long: "Download modules described by a distribution manifest. SOURCE is a local path or an http(s) URL.\n" +
			"Without --module or --all the manifest's default module is downloaded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]

			m, err := manifest.Load(cmd.Context(), source, nil)
			if err != nil {
				return err
			}

			if show {
				fmt.Fprintln(a.stdout, renderManifest(m))
				return nil
			}

			if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				if err := m.Save(filepath.Join(a.cfg.BaseDir, manifest.FileName)); err != nil {
					logger.Warnf("Could not keep a copy of the manifest: %v", err)
				}
			}

			outcome, err := a.engine(continueOnError, sequential).DownloadManifest(cmd.Context(), m, engine.Selection{Modules: modules, All: all})
			if err != nil {
				return err
			}

			return a.finish(outcome)
		},
	}

	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Module to download, can be repeated")
	cmd.Flags().BoolVar(&all, "all", false, "Download every module of the manifest")
	cmd.Flags().BoolVar(&show, "show", false, "List the manifest's modules instead of downloading")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Finish the other files of a module after one failed")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Download modules one at a time in recommended order")
	cmd.MarkFlagsMutuallyExclusive("module", "all")

	return cmd
}
