package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/axcrypt/internal/config"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration",
}

var configInitCmd = &cobra.Command{
	Use:     "init <file>",
	Short:   "Write an example config file",
	Example: `  axcrypt config init ~/.config/axcrypt/axcrypt.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("%w: %s already exists", models.ErrUsage, args[0])
		}
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		printSuccess("Wrote %s", args[0])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printJSON(cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
