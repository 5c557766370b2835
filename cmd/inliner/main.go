// Command inliner drives the copy and paste interceptors from the command
// line and serves the image resolution side-channel.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pasteinliner/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "inliner",
	Short: "Copy and paste HTML with its images embedded",
	Long: `inliner runs the clipboard interceptors against a page: copied selections
carry their images as data URLs, pasted HTML gets its remote images
embedded before it reaches the editor.

Usage:
  inliner copy --page <url|file> [flags]
  inliner paste --html <file> --page <file> --target <css>
  inliner serve [--addr host:port]
  inliner config init|show`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

func newLogger() *log.Logger {
	if !flagVerbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
}
