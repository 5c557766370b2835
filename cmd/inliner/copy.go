package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pasteinliner/intercept"
	"pasteinliner/internal/clipboard"
)

var (
	flagCopyPage    string
	flagCopyBase    string
	flagCopySelect  string
	flagCopyBrowser bool
	flagCopyService string
	flagCopySystem  bool
	flagCopyText    bool
	flagCopyOut     string
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy a selection of a page with its images inlined",
	Long: `Copy loads a page, selects the contents of --select (or the whole body),
and runs the copy interceptor end to end. The final clipboard payload is
printed, written to --out, or placed on the system clipboard with --system.

Examples:
  inliner copy --page https://example.com/post --select article
  inliner copy --page saved.html --base https://example.com/post --text
  inliner copy --page https://example.com --browser --system`,
	Args: cobra.NoArgs,
	RunE: runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)

	copyCmd.Flags().StringVar(&flagCopyPage, "page", "", "Page URL or HTML file (required)")
	copyCmd.Flags().StringVar(&flagCopyBase, "base", "", "Base URL for relative links (default: page location)")
	copyCmd.Flags().StringVar(&flagCopySelect, "select", "", "CSS selector whose contents are selected")
	copyCmd.Flags().BoolVar(&flagCopyBrowser, "browser", false, "Render the page in headless Chrome first")
	copyCmd.Flags().StringVar(&flagCopyService, "service", "", "Side-channel URL (overrides config)")
	copyCmd.Flags().BoolVar(&flagCopySystem, "system", false, "Write the result to the system clipboard")
	copyCmd.Flags().BoolVar(&flagCopyText, "text", false, "Print the text/plain flavor instead of HTML")
	copyCmd.Flags().StringVar(&flagCopyOut, "out", "", "Write the result to a file")
	_ = copyCmd.MarkFlagRequired("page")
}

func runCopy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagCopyService != "" {
		cfg.Service = flagCopyService
	}
	logger := newLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := loadPage(ctx, cfg, pageSource{
		Page:    flagCopyPage,
		Base:    flagCopyBase,
		Select:  flagCopySelect,
		Browser: flagCopyBrowser,
	}, logger)
	if err != nil {
		return err
	}

	mem := clipboard.NewMemory()
	in, err := newInterceptor(cfg, doc, mem, logger)
	if err != nil {
		return err
	}
	defer in.Unload()
	if err := pingService(ctx, cfg, in, logger); err != nil {
		fmt.Fprintf(os.Stderr, "copy: side-channel: %v\n", err)
	}

	// Ctrl+C reaches keydown before the copy event fires.
	run := in.HandleKeyDown(intercept.KeyEvent{Key: "c", Ctrl: true, Doc: doc})
	op, err := in.Copy(ctx, doc)
	if err != nil {
		return err
	}
	out, err := op.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "copy: %s images=%d inlined=%d\n", out.Kind, out.URLs, out.Rewritten)
	if out.Err != nil {
		fmt.Fprintf(os.Stderr, "copy: %v\n", out.Err)
	}
	if run != nil {
		bo, err := run.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "backstop: %s inlined=%d\n", bo.Kind, bo.Rewritten)
	}
	item, err := mem.Read(ctx)
	if err != nil {
		return err
	}

	if flagCopySystem {
		if err := (clipboard.System{}).Write(ctx, item); err != nil {
			return err
		}
	}
	payload := item.HTML
	if flagCopyText || payload == "" {
		payload = item.Text
	}
	return writeOutput(flagCopyOut, payload, flagCopySystem)
}

// writeOutput writes payload to path, or stdout unless quiet.
func writeOutput(path, payload string, quiet bool) error {
	if path != "" {
		return os.WriteFile(path, []byte(payload), 0o644)
	}
	if quiet {
		return nil
	}
	_, err := fmt.Fprintln(os.Stdout, payload)
	return err
}
