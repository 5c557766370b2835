package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pasteinliner/cosmetic"
	"pasteinliner/internal/config"
)

var flagConfigForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default process and cosmetic configuration files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := writeIfAbsent(flagConfig, func() error { return config.Default().Save(flagConfig) }); err != nil {
			return err
		}
		return writeIfAbsent(cfg.Cosmetic, func() error {
			store, err := cosmetic.Load(cfg.Cosmetic)
			if err != nil {
				return err
			}
			return store.Update(func(c *cosmetic.Config) { *c = cosmetic.Default() })
		})
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := cosmetic.Load(cfg.Cosmetic)
		if err != nil {
			return err
		}
		out := struct {
			Process  *config.Config  `yaml:"process"`
			Cosmetic cosmetic.Config `yaml:"cosmetic"`
		}{cfg, store.Current()}
		data, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&flagConfigForce, "force", false, "Overwrite existing files")
}

func writeIfAbsent(path string, write func() error) error {
	if !flagConfigForce {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "config: %s exists, keeping it\n", path)
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := write(); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "config: wrote %s\n", path)
	return nil
}
