package dom

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
}

// Stylesheet is the ordered rule list collected from a document.
type Stylesheet struct {
	rules []cssRule
}

// Len returns the number of selector rules.
func (s *Stylesheet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// StyleOptions control stylesheet collection.
type StyleOptions struct {
	// Client fetches <link rel=stylesheet> and @import targets. Nil disables
	// external stylesheets.
	Client  *http.Client
	Header  http.Header
	ScreenW int
	ScreenH int
	Logger  *log.Logger
}

type cssParseContext struct {
	ctx     context.Context
	baseURL string
	opts    *StyleOptions
	depth   int
	visited map[string]struct{}
	budget  *int
}

func (c *cssParseContext) child(newBase string) *cssParseContext {
	next := *c
	next.baseURL = newBase
	next.depth = c.depth + 1
	return &next
}

func (c *cssParseContext) logf(format string, args ...any) {
	if c != nil && c.opts != nil && c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}

// BuildStylesheet collects <style> elements and, when opts.Client is set,
// linked stylesheets from doc.
func BuildStylesheet(ctx context.Context, doc *html.Node, base string, opts *StyleOptions) *Stylesheet {
	if doc == nil {
		return nil
	}
	if opts == nil {
		opts = &StyleOptions{}
	}

	ss := &Stylesheet{}
	order := 0
	budget := 16

	pctx := &cssParseContext{
		ctx:     ctx,
		baseURL: base,
		opts:    opts,
		visited: map[string]struct{}{},
		budget:  &budget,
	}

	var links []string
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					if rs, ord := parseCSSText(n.FirstChild.Data, order, pctx); len(rs) > 0 {
						ss.rules = append(ss.rules, rs...)
						order = ord
					}
				}
			case "link":
				rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
				typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
				if strings.Contains(rel, "stylesheet") && (typ == "" || typ == "text/css") {
					if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
						links = append(links, href)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(doc)

	if opts.Client != nil {
		for _, link := range links {
			if *pctx.budget <= 0 {
				break
			}
			abs := resolveAbsURL(base, link)
			if abs == "" {
				continue
			}
			if _, seen := pctx.visited[abs]; seen {
				continue
			}
			pctx.visited[abs] = struct{}{}
			*pctx.budget--
			if b, ok := fetchText(ctx, opts.Client, abs, opts.Header, "text/css"); ok {
				if rs, ord := parseCSSText(string(b), order, pctx.child(abs)); len(rs) > 0 {
					ss.rules = append(ss.rules, rs...)
					order = ord
				}
			}
		}
	}
	return ss
}

func parseCSSText(txt string, startOrder int, pctx *cssParseContext) ([]cssRule, int) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || pctx.depth >= 16 {
		return nil, startOrder
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		pctx.logf("CSS parse base=%s err=%v", pctx.baseURL, err)
		return nil, startOrder
	}

	rules := make([]cssRule, 0, len(sheet.Rules)*2)
	order := startOrder

	var walk func([]*cssast.Rule, *cssParseContext)
	walk = func(list []*cssast.Rule, cur *cssParseContext) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude, cur.opts) {
						walk(rule.Rules, cur)
					}
				case "@supports":
					walk(rule.Rules, cur)
				case "@import":
					if cur.opts.Client == nil {
						continue
					}
					importURL, media := extractImportTarget(rule.Prelude)
					if importURL == "" {
						continue
					}
					if media != "" && !mediaRuleActive(media, cur.opts) {
						continue
					}
					abs := resolveAbsURL(cur.baseURL, importURL)
					if abs == "" {
						continue
					}
					if _, seen := cur.visited[abs]; seen {
						continue
					}
					cur.visited[abs] = struct{}{}
					if *cur.budget <= 0 {
						continue
					}
					*cur.budget--
					if b, ok := fetchText(cur.ctx, cur.opts.Client, abs, cur.opts.Header, "text/css"); ok {
						if rs, ord := parseCSSText(string(b), order, cur.child(abs)); len(rs) > 0 {
							rules = append(rules, rs...)
							order = ord
						}
					}
				default:
					if rule.EmbedsRules() {
						walk(rule.Rules, cur)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ","))
				if err != nil {
					cur.logf("CSS selector %q: %v", strings.Join(rule.Selectors, ","), err)
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					rules = append(rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}

	walk(sheet.Rules, pctx)
	return rules, order
}

func convertDeclarations(list []*cssast.Declaration) []cssDeclaration {
	if len(list) == 0 {
		return nil
	}
	out := make([]cssDeclaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		val := strings.TrimSpace(decl.Value)
		if prop == "" || val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: decl.Important})
	}
	return out
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		target := trimCSSString(strings.TrimSpace(s[4:end]))
		return target, strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	target := trimCSSString(fields[0])
	return target, strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	vv := strings.TrimSpace(v)
	if len(vv) >= 2 {
		if (vv[0] == '"' && vv[len(vv)-1] == '"') || (vv[0] == '\'' && vv[len(vv)-1] == '\'') {
			return vv[1 : len(vv)-1]
		}
	}
	return vv
}

func mediaRuleActive(prelude string, opts *StyleOptions) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(query, mediaType))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "and"))
		}
		switch mediaType {
		case "", "all", "screen":
			if evaluateMediaFeatures(rest, opts) {
				return true
			}
		case "only":
			if evaluateMediaFeatures(strings.TrimPrefix(rest, "screen"), opts) {
				return true
			}
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, opts *StyleOptions) bool {
	width, height := 1280, 800
	if opts != nil && opts.ScreenW > 0 {
		width = opts.ScreenW
	}
	if opts != nil && opts.ScreenH > 0 {
		height = opts.ScreenH
	}
	for _, clause := range strings.Split(expr, "and") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		c = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(c, "("), ")"))
		parts := strings.SplitN(c, ":", 2)
		feature := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		switch feature {
		case "orientation":
			orientation := "portrait"
			if width > height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-width":
			if px, ok := cssLengthToPx(value, width); ok && width < px {
				return false
			}
		case "max-width":
			if px, ok := cssLengthToPx(value, width); ok && width > px {
				return false
			}
		case "min-height":
			if px, ok := cssLengthToPx(value, height); ok && height < px {
				return false
			}
		case "max-height":
			if px, ok := cssLengthToPx(value, height); ok && height > px {
				return false
			}
		case "prefers-color-scheme":
			if value != "" && value != "light" {
				return false
			}
		}
	}
	return true
}

// cssLengthToPx converts px, %, em/rem, vw/vh and unitless values; base is the
// reference length for percentages and viewport units.
func cssLengthToPx(val string, base int) (int, bool) {
	f, ok := CSSLengthToPxFloat(val, float64(base))
	if !ok {
		return 0, false
	}
	return int(f + 0.5), true
}

// CSSLengthToPxFloat converts a CSS length to pixels assuming a 16px em.
func CSSLengthToPxFloat(val string, base float64) (float64, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	if v == "" {
		return 0, false
	}
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case strings.HasSuffix(v, "px"):
		return num(v[:len(v)-2])
	case strings.HasSuffix(v, "rem"):
		f, ok := num(v[:len(v)-3])
		return f * 16, ok
	case strings.HasSuffix(v, "em"):
		f, ok := num(v[:len(v)-2])
		return f * 16, ok
	case strings.HasSuffix(v, "pt"):
		f, ok := num(v[:len(v)-2])
		return f * 4 / 3, ok
	case strings.HasSuffix(v, "%"), strings.HasSuffix(v, "vw"), strings.HasSuffix(v, "vh"):
		if base <= 0 {
			return 0, false
		}
		cut := 2
		if strings.HasSuffix(v, "%") {
			cut = 1
		}
		f, ok := num(v[:len(v)-cut])
		return base * f / 100, ok
	}
	return num(v)
}

func cascadeFor(n *html.Node, ss *Stylesheet) map[string]string {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}

	props := map[string]propState{}

	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}

	for i, decl := range ParseInlineStyle(getAttr(n, "style")) {
		applyDeclaration(props, cssDeclaration{property: decl.Property, value: decl.Value, important: decl.Important},
			cascadia.Specificity{1 << 12, 0, 0}, (1<<30)+i)
	}

	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, st := range props {
		out[k] = st.val
	}
	return out
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	prop := strings.ToLower(strings.TrimSpace(decl.property))
	value := strings.TrimSpace(decl.value)
	if prop == "" || value == "" {
		return
	}
	if prop == "background" {
		if col := extractColorFromValue(value); col != "" {
			applyDeclaration(store, cssDeclaration{property: "background-color", value: col, important: decl.important}, spec, order)
		}
	}
	for _, expanded := range expandShorthand(prop, value) {
		applyOne(store, expanded[0], expanded[1], decl.important, spec, order)
	}
}

func applyOne(store map[string]propState, prop, value string, important bool, spec cascadia.Specificity, order int) {
	entry := propState{val: value, spec: spec, order: order, important: important}
	prev, ok := store[prop]
	if !ok {
		store[prop] = entry
		return
	}
	if prev.important && !important {
		return
	}
	if important && !prev.important {
		store[prop] = entry
		return
	}
	if prev.spec.Less(spec) {
		store[prop] = entry
		return
	}
	if spec.Less(prev.spec) {
		return
	}
	if order >= prev.order {
		store[prop] = entry
	}
}

// expandShorthand splits margin and padding box shorthands so that
// margin-top/margin-bottom can be inspected individually.
func expandShorthand(prop, value string) [][2]string {
	switch prop {
	case "margin", "padding":
		parts := strings.Fields(value)
		var top, right, bottom, left string
		switch len(parts) {
		case 1:
			top, right, bottom, left = parts[0], parts[0], parts[0], parts[0]
		case 2:
			top, right, bottom, left = parts[0], parts[1], parts[0], parts[1]
		case 3:
			top, right, bottom, left = parts[0], parts[1], parts[2], parts[1]
		case 4:
			top, right, bottom, left = parts[0], parts[1], parts[2], parts[3]
		default:
			return [][2]string{{prop, value}}
		}
		return [][2]string{
			{prop, value},
			{prop + "-top", top},
			{prop + "-right", right},
			{prop + "-bottom", bottom},
			{prop + "-left", left},
		}
	}
	return [][2]string{{prop, value}}
}

func extractColorFromValue(input string) string {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return ""
	}
	if col := cssToHex(s); col != "" {
		return col
	}
	if IsTransparent(s) {
		return "transparent"
	}
	cleaned := stripFunctions(s, "url")
	for _, kw := range []string{"rgba(", "rgb("} {
		if idx := strings.Index(cleaned, kw); idx != -1 {
			if end := strings.IndexByte(cleaned[idx:], ')'); end != -1 {
				if col := cssToHex(cleaned[idx : idx+end+1]); col != "" {
					return col
				}
			}
		}
	}
	parts := strings.FieldsFunc(cleaned, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '/'
	})
	for _, part := range parts {
		if col := cssToHex(part); col != "" {
			return col
		}
	}
	return ""
}

func stripFunctions(s string, names ...string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	i := 0
	for i < len(lower) {
		matched := false
		for _, name := range names {
			if strings.HasPrefix(lower[i:], name+"(") {
				matched = true
				depth := 0
				j := i
			scan:
				for j < len(lower) {
					switch lower[j] {
					case '(':
						depth++
					case ')':
						depth--
						if depth == 0 {
							j++
							break scan
						}
					}
					j++
				}
				i = j
				break
			}
		}
		if matched {
			continue
		}
		b.WriteByte(lower[i])
		i++
	}
	return b.String()
}

func resolveAbsURL(base, href string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hu, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func fetchText(ctx context.Context, client *http.Client, absURL string, hdr http.Header, accept string) ([]byte, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, false
	}
	for k, vals := range hdr {
		if strings.EqualFold(k, "accept") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", accept)
	resp, err := client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, false
	}
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			rc = zr
			defer zr.Close()
		} else {
			fr := flate.NewReader(resp.Body)
			rc = fr
			defer fr.Close()
		}
	}
	body, err := io.ReadAll(io.LimitReader(rc, 2<<20))
	if err != nil {
		return nil, false
	}
	return body, true
}
