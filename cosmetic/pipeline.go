package cosmetic

import (
	"fmt"
	"log"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// Report counts the changes each pass made.
type Report struct {
	Headings   int
	Links      int
	Footers    int
	EmptyLines int
}

// Total sums all counters.
func (r Report) Total() int { return r.Headings + r.Links + r.Footers + r.EmptyLines }

func (r Report) String() string {
	return fmt.Sprintf("headings=%d links=%d footers=%d empty=%d", r.Headings, r.Links, r.Footers, r.EmptyLines)
}

// Pipeline runs the passes in their fixed order.
type Pipeline struct {
	Logger *log.Logger
}

type pass struct {
	name string
	run  func(*dom.Fragment, Config) int
	out  func(*Report) *int
}

var passes = []pass{
	{"heading", RemapHeadings, func(r *Report) *int { return &r.Headings }},
	{"links", ProcessLinks, func(r *Report) *int { return &r.Links }},
	{"footer", FilterFooters, func(r *Report) *int { return &r.Footers }},
	{"emptyline", CleanEmptyLines, func(r *Report) *int { return &r.EmptyLines }},
}

// Run applies heading remap, link processing, footer filtering and
// empty-line cleanup to f. A failing pass is logged and skipped.
func (p *Pipeline) Run(f *dom.Fragment, cfg Config) Report {
	var rep Report
	for _, ps := range passes {
		*ps.out(&rep) = p.runPass(ps, f, cfg)
	}
	return rep
}

func (p *Pipeline) runPass(ps pass, f *dom.Fragment, cfg Config) (n int) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger().Printf("COSMETIC pass=%s failed: %v", ps.name, rec)
			n = 0
		}
	}()
	return ps.run(f, cfg)
}

func (p *Pipeline) logger() *log.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// Run is a convenience for a pipeline with the default logger.
func Run(f *dom.Fragment, cfg Config) Report {
	return (&Pipeline{}).Run(f, cfg)
}

func query(f *dom.Fragment) *goquery.Document {
	return goquery.NewDocumentFromNode(f.Root)
}

// computedStyle returns the live style behind a cloned node, if any.
func computedStyle(f *dom.Fragment, n *html.Node) dom.Style {
	doc := f.Document()
	if doc == nil {
		return nil
	}
	live, ok := f.Counterpart(n)
	if !ok {
		return nil
	}
	return doc.ComputedStyle(live)
}
