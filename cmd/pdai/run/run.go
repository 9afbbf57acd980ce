package run

import (
	"fmt"
	"os"

	"github.com/pdai-labs/pdai/internal/app"
	"github.com/pdai-labs/pdai/internal/cli"
	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/tui"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var CLICmd = &cobra.Command{
	Use:   "cli",
	Short: "Start an interactive line-mode session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()

		opts := []app.OptionFunc{
			app.WithQueueCapacity(cfg.CLI.QueueCapacity),
			app.WithDBInitialization(),
		}
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			opts = append(opts, app.WithProgressOutput(os.Stderr))
		}

		a, err := start(cfg, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		repl := cli.New(a.Session(), cmd.InOrStdin(), cmd.OutOrStdout(), cli.WithLogger(a.Logger))
		return repl.Run(cmd.Context())
	},
}

var GUICmd = &cobra.Command{
	Use:   "gui",
	Short: "Start the terminal window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()

		a, err := start(cfg,
			app.WithQueueCapacity(cfg.GUI.QueueCapacity),
			app.WithDBInitialization(),
			app.WithDownloadWorker(),
		)
		if err != nil {
			return err
		}
		defer a.Close()

		return tui.Run(a.Context(), a.Session(), tui.WithLogger(a.Logger))
	},
}

// start builds the app and prints whatever the startup checks queued when
// they fail.
func start(cfg *config.Config, opts ...app.OptionFunc) (*app.App, error) {
	a, err := app.NewApp(cfg, opts...)
	if err == nil {
		return a, nil
	}

	if a != nil {
		for _, entry := range a.Session().Queue().Drain(true) {
			fmt.Fprintln(os.Stderr, entry)
		}
		a.Close()
	}
	return nil, err
}
