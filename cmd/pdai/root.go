package cmd

import (
	"fmt"
	"os"
	"strings"

	// Subcommands
	"github.com/pdai-labs/pdai/cmd/pdai/assets"
	"github.com/pdai-labs/pdai/cmd/pdai/run"
	"github.com/pdai-labs/pdai/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const pdaiPrefix = "PDAI"

var Cmd = &cobra.Command{
	Use:   "pdai",
	Short: "Pneumonia detection AI",
	Long:  "Classify chest X-ray images, collect a labelled dataset and retrain the model from a terminal session or window.",

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix(pdaiPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(
			`-`, `_`,
			`.`, `_`,
		))
		viper.AutomaticEnv()

		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		return config.InitConfig()
	},

	// Without a subcommand the line-mode session starts.
	RunE: run.CLICmd.RunE,
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("pdai-home", "", "Path to the pdai home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")

	viper.BindPFlag("pdai_home", pflags.Lookup("pdai-home"))
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))

	Cmd.AddCommand(run.CLICmd, run.GUICmd, assets.Cmd, modelCmd, dbCmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
