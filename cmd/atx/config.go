package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/config"
	"github.com/EQXai/AutoTrainX-sub000/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteExample(configPath); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), ui.RenderAccent(configPath))
		fmt.Println("   Edit the source, spreadsheet, and table sections before starting the daemon.")
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s is valid: %d table(s) on a %s source\n",
			ui.RenderPass("✓"), ui.RenderAccent(configPath), len(cfg.Tables), cfg.Source.Kind)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
