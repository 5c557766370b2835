package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"pasteinliner/dom"
	"pasteinliner/intercept"
	"pasteinliner/internal/clipboard"
)

var (
	flagPasteHTML   string
	flagPastePage   string
	flagPasteBase   string
	flagPasteTarget string
	flagPasteOut    string
)

var pasteCmd = &cobra.Command{
	Use:   "paste",
	Short: "Paste HTML into an editable element with its images inlined",
	Long: `Paste places the caret at the end of --target on --page and dispatches a
paste of --html (or of the system clipboard when --html is omitted). The
resulting document is printed or written to --out.

Examples:
  inliner paste --html fragment.html --page editor.html --target "[contenteditable]"
  inliner paste --page editor.html --target textarea --out result.html`,
	Args: cobra.NoArgs,
	RunE: runPaste,
}

func init() {
	rootCmd.AddCommand(pasteCmd)

	pasteCmd.Flags().StringVar(&flagPasteHTML, "html", "", "HTML file to paste (default: system clipboard)")
	pasteCmd.Flags().StringVar(&flagPastePage, "page", "", "HTML file holding the editor (required)")
	pasteCmd.Flags().StringVar(&flagPasteBase, "base", "", "Base URL of the editor page")
	pasteCmd.Flags().StringVar(&flagPasteTarget, "target", "", "CSS selector of the paste target (required)")
	pasteCmd.Flags().StringVar(&flagPasteOut, "out", "", "Write the resulting document to a file")
	_ = pasteCmd.MarkFlagRequired("page")
	_ = pasteCmd.MarkFlagRequired("target")
}

func runPaste(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := readPage(ctx, pageSource{Page: flagPastePage, Base: flagPasteBase}, logger)
	if err != nil {
		return err
	}
	target, err := doc.QuerySelector(flagPasteTarget)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("no element matches %q", flagPasteTarget)
	}
	caret := doc.NewRange()
	caret.SelectNodeContents(target)
	caret.Collapse(false)
	doc.Select(caret)

	item, err := pastePayload(ctx)
	if err != nil {
		return err
	}
	payload := intercept.NewDataTransfer()
	if item.HTML != "" {
		payload.SetData(intercept.MimeHTML, item.HTML)
	}
	if item.Text != "" {
		payload.SetData(intercept.MimePlain, item.Text)
	}

	in, err := newInterceptor(cfg, doc, clipboard.NewMemory(), logger)
	if err != nil {
		return err
	}
	defer in.Unload()
	if err := pingService(ctx, cfg, in, logger); err != nil {
		fmt.Fprintf(os.Stderr, "paste: side-channel: %v\n", err)
	}
	ev := intercept.NewPasteEvent(doc, payload, target)
	out := in.HandlePaste(ctx, ev)
	if !ev.DefaultPrevented() {
		nativePaste(doc, item.Text)
	}
	fmt.Fprintf(os.Stderr, "paste: %s images=%d inlined=%d\n", out.Kind, out.URLs, out.Rewritten)
	if out.Err != nil {
		fmt.Fprintf(os.Stderr, "paste: %v\n", out.Err)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc.Root); err != nil {
		return err
	}
	return writeOutput(flagPasteOut, buf.String(), false)
}

func pastePayload(ctx context.Context) (intercept.ClipboardItem, error) {
	if flagPasteHTML == "" {
		return clipboard.System{}.Read(ctx)
	}
	data, err := os.ReadFile(flagPasteHTML)
	if err != nil {
		return intercept.ClipboardItem{}, err
	}
	f, err := dom.ParseFragment(string(data), "")
	if err != nil {
		return intercept.ClipboardItem{}, err
	}
	return intercept.ClipboardItem{HTML: string(data), Text: f.Text()}, nil
}

// nativePaste inserts text at the caret the way the browser does when the
// handler leaves the event alone.
func nativePaste(doc *dom.Document, text string) {
	if text == "" || doc.Selection.RangeCount() == 0 {
		return
	}
	r := doc.Selection.RangeAt(0)
	r.DeleteContents()
	r.InsertNodes([]*html.Node{{Type: html.TextNode, Data: text}})
	r.Collapse(false)
}
