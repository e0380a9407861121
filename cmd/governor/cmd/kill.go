package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var killActor string

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Inspect or change the global kill switch (spec §4.6)",
}

var killStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the kill switch is engaged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)
		ks := newKillSwitch(logger)

		if ks.Engaged(context.Background()) {
			fmt.Println("engaged")
		} else {
			fmt.Println("released")
		}
		return nil
	},
}

var killEngageCmd = &cobra.Command{
	Use:   "engage",
	Short: "Engage the kill switch, blocking every request at risk 100",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)
		ks := newKillSwitch(logger)

		if err := ks.Engage(context.Background(), killActor); err != nil {
			return fmt.Errorf("engage: %w", err)
		}
		fmt.Println("kill switch engaged")
		return nil
	},
}

var killReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the kill switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)
		ks := newKillSwitch(logger)

		if err := ks.Release(context.Background(), killActor); err != nil {
			return fmt.Errorf("release: %w", err)
		}
		fmt.Println("kill switch released")
		return nil
	},
}

func init() {
	killCmd.PersistentFlags().StringVar(&killActor, "actor", "cli", "actor id recorded against this change")
	killCmd.AddCommand(killStatusCmd, killEngageCmd, killReleaseCmd)
	rootCmd.AddCommand(killCmd)
}
