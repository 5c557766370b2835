package dom

import (
	"sort"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// Declaration is one property: value pair of an inline style attribute.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// ParseInlineStyle parses the content of a style attribute. Malformed input
// falls back to a plain split on ';' and ':'.
func ParseInlineStyle(inline string) []Declaration {
	inline = strings.TrimSpace(inline)
	if inline == "" {
		return nil
	}
	var out []Declaration
	if decls, err := parser.ParseDeclarations(inline); err == nil {
		for _, d := range decls {
			if d == nil {
				continue
			}
			prop := strings.ToLower(strings.TrimSpace(d.Property))
			val := strings.TrimSpace(d.Value)
			if prop == "" || val == "" {
				continue
			}
			out = append(out, Declaration{Property: prop, Value: val, Important: d.Important})
		}
		return out
	}
	for _, part := range strings.Split(inline, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(value), "!important") {
			important = true
			value = strings.TrimSpace(value[:len(value)-len("!important")])
		}
		if prop == "" || value == "" {
			continue
		}
		out = append(out, Declaration{Property: prop, Value: value, Important: important})
	}
	return out
}

// FormatInlineStyle renders declarations back into attribute form.
func FormatInlineStyle(decls []Declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	return b.String()
}

// InlineStyle returns the value of prop in n's style attribute.
func InlineStyle(n *html.Node, prop string) (string, bool) {
	prop = strings.ToLower(prop)
	val, found := "", false
	for _, d := range ParseInlineStyle(getAttr(n, "style")) {
		if d.Property == prop {
			val, found = d.Value, true
		}
	}
	return val, found
}

// SetInlineStyle sets prop on n's style attribute, replacing an existing
// declaration of the same property.
func SetInlineStyle(n *html.Node, prop, value string) {
	prop = strings.ToLower(strings.TrimSpace(prop))
	decls := ParseInlineStyle(getAttr(n, "style"))
	replaced := false
	for i := range decls {
		if decls[i].Property == prop {
			decls[i].Value = value
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, Declaration{Property: prop, Value: value})
	}
	SetAttr(n, "style", FormatInlineStyle(decls))
}

// Style is a resolved property map.
type Style map[string]string

// Get returns the value of prop or "".
func (s Style) Get(prop string) string {
	if s == nil {
		return ""
	}
	return s[strings.ToLower(prop)]
}

// Keys returns the property names in sorted order.
func (s Style) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var inheritedProps = map[string]bool{
	"color":          true,
	"font-family":    true,
	"font-size":      true,
	"font-style":     true,
	"font-weight":    true,
	"font-variant":   true,
	"line-height":    true,
	"letter-spacing": true,
	"word-spacing":   true,
	"text-align":     true,
	"text-indent":    true,
	"text-transform": true,
	"visibility":     true,
	"white-space":    true,
}

var headingSizes = map[string]string{
	"h1": "32px", "h2": "24px", "h3": "18.72px", "h4": "16px", "h5": "13.28px", "h6": "10.72px",
}

var fontSizeKeywords = map[string]float64{
	"xx-small": 9, "x-small": 10, "small": 13, "medium": 16,
	"large": 18, "x-large": 24, "xx-large": 32, "xxx-large": 48,
}

// userAgentStyle approximates the browser default stylesheet for the
// properties reconciliation cares about.
func userAgentStyle(n *html.Node) Style {
	tag := strings.ToLower(n.Data)
	st := Style{}
	switch tag {
	case "head", "script", "style", "template", "noscript", "title", "meta", "link":
		st["display"] = "none"
	case "caption":
		st["display"] = "table-caption"
		st["text-align"] = "center"
	case "table":
		st["display"] = "table"
	case "tr":
		st["display"] = "table-row"
	case "td", "th":
		st["display"] = "table-cell"
	case "li":
		st["display"] = "list-item"
	case "thead", "tbody", "tfoot":
		st["display"] = "table-row-group"
	default:
		if blockTags[tag] {
			st["display"] = "block"
		} else {
			st["display"] = "inline"
		}
	}
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		st["font-weight"] = "bold"
		st["font-size"] = headingSizes[tag]
	case "b", "strong", "th":
		st["font-weight"] = "bold"
	case "i", "em", "cite", "var":
		st["font-style"] = "italic"
	case "a":
		if HasAttr(n, "href") {
			st["color"] = "rgb(0, 0, 238)"
			st["text-decoration"] = "underline"
		}
	case "u", "ins":
		st["text-decoration"] = "underline"
	case "s", "strike", "del":
		st["text-decoration"] = "line-through"
	case "p", "blockquote", "ul", "ol", "dl":
		st["margin-top"] = "16px"
		st["margin-bottom"] = "16px"
	case "pre", "code", "kbd", "samp", "tt":
		st["font-family"] = "monospace"
	}
	if HasAttr(n, "hidden") {
		st["display"] = "none"
	}
	return st
}

func rootStyle() Style {
	return Style{
		"color":       "rgb(0, 0, 0)",
		"font-size":   "16px",
		"font-weight": "400",
		"font-style":  "normal",
		"line-height": "normal",
		"visibility":  "visible",
		"white-space": "normal",
	}
}

// resolveFontSize turns relative font sizes into px against the parent size.
func resolveFontSize(val string, parentPx float64) string {
	v := strings.ToLower(strings.TrimSpace(val))
	if px, ok := fontSizeKeywords[v]; ok {
		return formatPx(px)
	}
	switch v {
	case "smaller":
		return formatPx(parentPx / 1.2)
	case "larger":
		return formatPx(parentPx * 1.2)
	}
	switch {
	case strings.HasSuffix(v, "rem"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "rem"), 64); err == nil {
			return formatPx(f * 16)
		}
	case strings.HasSuffix(v, "em"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "em"), 64); err == nil {
			return formatPx(f * parentPx)
		}
	case strings.HasSuffix(v, "%"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			return formatPx(f * parentPx / 100)
		}
	case strings.HasSuffix(v, "pt"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "pt"), 64); err == nil {
			return formatPx(f * 4 / 3)
		}
	}
	return val
}

func formatPx(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + "px"
}

func pxValue(val string) float64 {
	if f, ok := CSSLengthToPxFloat(val, 0); ok {
		return f
	}
	return 16
}

// DefaultStyle returns the user-agent defaults for an element, the values a
// destination renderer applies without any inline style.
func DefaultStyle(n *html.Node) Style { return userAgentStyle(n) }
