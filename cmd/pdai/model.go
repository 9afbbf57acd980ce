package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdai-labs/pdai/internal/classifier"
	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"

	"github.com/spf13/cobra"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the local model file",
}

var modelInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an untrained model that can be trained with tmwd",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()

		path := cfg.ModelPath()
		if cfg.ModelFormat == config.ModelFormatDir {
			path = filepath.Join(path, classifier.ArtifactName)
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to replace it", path)
		}

		c := classifier.New(imageio.TensorLen, model.DefaultClasses, cfg.ModelExtensions)
		if err := c.Save(path); err != nil {
			return err
		}

		cmd.Printf("model written to %s\n", path)
		return nil
	},
}

func init() {
	modelInitCmd.Flags().Bool("force", false, "Overwrite an existing model")
	modelCmd.AddCommand(modelInitCmd)
}
