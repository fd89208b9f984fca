package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/herald/internal/config"
	"github.com/vango-dev/herald/internal/errors"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default herald.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(configDir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf(errors.CategoryCLI, "%s already exists", path).
					WithSuggestion("Pass --force to overwrite it.")
			}

			cfg := config.New()
			cfg.Controllers = []config.ControllerConfig{{Name: "default", Description: "default controller"}}
			cfg.Watch.Files = []string{config.FileName}
			if err := cfg.SaveTo(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			info("Start the server with: herald serve -C %s", configDir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
