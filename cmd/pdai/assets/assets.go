package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/services/fetcher"
	"github.com/pdai-labs/pdai/pkg/logger"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect and download release assets",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the assets of the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		f := fetcher.New(cfg.Feed.Timeout)

		release, err := f.Release(cmd.Context(), cfg.Feed.URL)
		if err != nil {
			return err
		}

		models, _ := cmd.Flags().GetBool("models")
		keep := map[string]bool{}
		if models {
			names := make([]string, 0, len(release.Assets))
			for _, a := range release.Assets {
				names = append(names, a.Name)
			}
			for _, n := range fetcher.FilterModels(names) {
				keep[n] = true
			}
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.SetTitle("Latest release: " + release.Name)
		tw.AppendHeader(table.Row{"Name", "Size"})
		for _, a := range release.Assets {
			if models && !keep[a.Name] {
				continue
			}
			tw.AppendRow(table.Row{a.Name, humanSize(a.Size)})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		tw.Render()
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <asset>",
	Short: "Download a release asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()

		log, err := logger.NewLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		dest, _ := cmd.Flags().GetString("dest")
		if dest == "" {
			dest = filepath.Join(cfg.TempDir, args[0])
		}

		out := cmd.OutOrStdout()
		opts := []fetcher.OptionFunc{
			fetcher.WithLogger(log),
			fetcher.WithNotifier(printer{cmd}),
		}
		if isatty.IsTerminal(os.Stderr.Fd()) {
			opts = append(opts, fetcher.WithProgressOutput(os.Stderr))
		}

		n, err := fetcher.New(cfg.Feed.Timeout, opts...).Download(cmd.Context(), cfg.Feed.URL, args[0], dest, cfg.Feed.ChunkSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s (%s)\n", dest, humanSize(n))
		return nil
	},
}

type printer struct {
	cmd *cobra.Command
}

func (p printer) Push(item string) {
	p.cmd.Println(item)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	listCmd.Flags().Bool("models", false, "Only list model files")
	downloadCmd.Flags().String("dest", "", "Destination path (defaults to the temp dir)")

	Cmd.AddCommand(listCmd, downloadCmd)
}
