package reconcile

import (
	"fmt"
	"log"
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
)

// AllowList holds the visually significant properties carried onto cloned
// elements.
var AllowList = []string{
	"color", "background-color", "background-image",
	"font-family", "font-size", "font-weight", "font-style", "font-variant",
	"line-height", "letter-spacing", "word-spacing",
	"text-decoration", "text-align", "text-indent", "text-transform", "white-space", "vertical-align",
	"margin-top", "margin-right", "margin-bottom", "margin-left",
	"padding-top", "padding-right", "padding-bottom", "padding-left",
	"border", "border-top", "border-right", "border-bottom", "border-left",
	"border-color", "border-style", "border-width", "border-collapse", "border-radius",
	"width", "height", "max-width", "min-width",
	"display", "visibility", "opacity", "list-style-type",
}

// noOpValues are computed values that never need to be spelled out.
var noOpValues = map[string]bool{
	"": true, "auto": true, "normal": true, "initial": true, "none": true, "inherit": true,
	"0": true, "0px": true, "start": true, "baseline": true, "visible": true, "static": true,
	"medium none": true, "0px none": true,
}

// IsNoOp reports whether value is a default that carries no information
// for prop: black text, 16px font, transparent backgrounds and the like.
func IsNoOp(prop, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if noOpValues[v] {
		return true
	}
	switch prop {
	case "color":
		return dom.IsBlack(v)
	case "background-color", "border-color":
		return dom.IsTransparent(v)
	case "font-size":
		return v == "16px" || v == "medium"
	case "font-weight":
		return v == "400"
	case "opacity":
		return v == "1"
	case "border", "border-top", "border-right", "border-bottom", "border-left":
		return strings.Contains(v, "none") || strings.HasPrefix(v, "0px")
	}
	return false
}

// Report summarizes one style reconciliation.
type Report struct {
	Elements   int
	Matched    int
	ByMapping  int
	Unmatched  int
	Properties int
}

func (r Report) String() string {
	return fmt.Sprintf("elements=%d matched=%d mapped=%d unmatched=%d props=%d",
		r.Elements, r.Matched, r.ByMapping, r.Unmatched, r.Properties)
}

// Reconciler copies computed styles and converts captions for one copy
// operation.
type Reconciler struct {
	Logger     *log.Logger
	Properties []string
}

func (rc *Reconciler) logger() *log.Logger {
	if rc != nil && rc.Logger != nil {
		return rc.Logger
	}
	return log.Default()
}

func (rc *Reconciler) props() []string {
	if rc != nil && len(rc.Properties) > 0 {
		return rc.Properties
	}
	return AllowList
}

// Styles writes the live counterpart's significant computed properties onto
// each cloned element's inline style. Declarations already inline win.
func (rc *Reconciler) Styles(f *dom.Fragment, r *dom.Range) Report {
	var rep Report
	doc := f.Document()
	if doc == nil {
		return rep
	}
	m := newMatcher(f, r)
	for _, n := range f.Elements() {
		rep.Elements++
		live, how := m.find(n)
		if live == nil {
			rep.Unmatched++
			continue
		}
		rep.Matched++
		if how == byMapping {
			rep.ByMapping++
		}
		added, err := rc.applyStyle(n, doc.ComputedStyle(live), dom.DefaultStyle(n))
		if err != nil {
			rc.logger().Printf("RECONCILE style tag=%s err=%v", n.Data, err)
			continue
		}
		rep.Properties += added
	}
	return rep
}

// applyStyle merges computed into n's inline style, skipping no-op values
// and values equal to the tag's defaults.
func (rc *Reconciler) applyStyle(n *html.Node, computed, defaults dom.Style) (added int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("apply style: %v", rec)
		}
	}()
	decls := dom.ParseInlineStyle(dom.GetAttr(n, "style"))
	have := make(map[string]bool, len(decls))
	for _, d := range decls {
		have[d.Property] = true
	}
	for _, prop := range rc.props() {
		if have[prop] || shorthandCovers(have, prop) {
			continue
		}
		val := strings.TrimSpace(computed.Get(prop))
		if IsNoOp(prop, val) {
			continue
		}
		if def := defaults.Get(prop); def != "" && sameValue(prop, def, val) {
			continue
		}
		decls = append(decls, dom.Declaration{Property: prop, Value: val})
		added++
	}
	if added > 0 {
		dom.SetAttr(n, "style", dom.FormatInlineStyle(decls))
	}
	return added, nil
}

func shorthandCovers(have map[string]bool, prop string) bool {
	if i := strings.IndexByte(prop, '-'); i > 0 {
		switch head := prop[:i]; head {
		case "margin", "padding", "border":
			return have[head]
		}
	}
	return false
}

func sameValue(prop, a, b string) bool {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return true
	}
	if prop == "color" || strings.HasSuffix(prop, "-color") {
		ha, hb := dom.CSSToHex(a), dom.CSSToHex(b)
		return ha != "" && ha == hb
	}
	return false
}

// Styles reconciles with a default Reconciler.
func Styles(f *dom.Fragment, r *dom.Range) Report {
	return (&Reconciler{}).Styles(f, r)
}
