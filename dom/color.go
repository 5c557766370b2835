package dom

import (
	"fmt"
	"strconv"
	"strings"
)

type rgbColor struct {
	R uint8
	G uint8
	B uint8
	A float64
}

func (c rgbColor) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func parseHexColor(value string) (rgbColor, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 {
		return rgbColor{}, false
	}
	r, errR := strconv.ParseUint(hex[0:2], 16, 8)
	g, errG := strconv.ParseUint(hex[2:4], 16, 8)
	b, errB := strconv.ParseUint(hex[4:6], 16, 8)
	if errR != nil || errG != nil || errB != nil {
		return rgbColor{}, false
	}
	return rgbColor{R: uint8(r), G: uint8(g), B: uint8(b), A: 1}, true
}

func parseShorthandHex(value string) (rgbColor, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch length := len(hex); {
	case length == 3 || length == 4:
		exp := []byte{
			hex[0], hex[0],
			hex[1], hex[1],
			hex[2], hex[2],
		}
		col, ok := parseHexColor(string(exp))
		if ok && length == 4 && hex[3] == '0' {
			col.A = 0
		}
		return col, ok
	case length == 8:
		col, ok := parseHexColor(hex[:6])
		if ok && strings.EqualFold(hex[6:], "00") {
			col.A = 0
		}
		return col, ok
	case length >= 6:
		return parseHexColor(hex[:6])
	default:
		return rgbColor{}, false
	}
}

var namedColors = map[string]rgbColor{
	"black":   {A: 1},
	"white":   {R: 255, G: 255, B: 255, A: 1},
	"red":     {R: 255, A: 1},
	"green":   {G: 128, A: 1},
	"blue":    {B: 255, A: 1},
	"gray":    {R: 128, G: 128, B: 128, A: 1},
	"grey":    {R: 128, G: 128, B: 128, A: 1},
	"silver":  {R: 192, G: 192, B: 192, A: 1},
	"maroon":  {R: 128, A: 1},
	"navy":    {B: 128, A: 1},
	"purple":  {R: 128, B: 128, A: 1},
	"orange":  {R: 255, G: 165, A: 1},
	"yellow":  {R: 255, G: 255, A: 1},
	"teal":    {G: 128, B: 128, A: 1},
	"olive":   {R: 128, G: 128, A: 1},
	"fuchsia": {R: 255, B: 255, A: 1},
	"aqua":    {G: 255, B: 255, A: 1},
	"lime":    {G: 255, A: 1},
}

func parseCSSColor(input string) (rgbColor, bool) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return rgbColor{}, false
	}
	if s == "transparent" {
		return rgbColor{A: 0}, true
	}
	if col, ok := namedColors[s]; ok {
		return col, true
	}
	if strings.HasPrefix(s, "#") {
		return parseShorthandHex(s)
	}
	if strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba(") {
		return parseRGBFunctional(s)
	}
	return rgbColor{}, false
}

func parseRGBFunctional(expr string) (rgbColor, bool) {
	open := strings.IndexByte(expr, '(')
	close := strings.LastIndexByte(expr, ')')
	if open < 0 || close <= open+1 {
		return rgbColor{}, false
	}
	inner := expr[open+1 : close]
	var parts []string
	if strings.Contains(inner, ",") {
		parts = strings.Split(inner, ",")
	} else {
		// rgb(0 0 0 / 50%)
		inner = strings.Replace(inner, "/", " ", 1)
		parts = strings.Fields(inner)
	}
	if len(parts) < 3 {
		return rgbColor{}, false
	}
	toByte := func(component string) uint8 {
		component = strings.TrimSpace(component)
		if strings.HasSuffix(component, "%") {
			value, err := strconv.ParseFloat(strings.TrimSuffix(component, "%"), 64)
			if err != nil {
				return 0
			}
			if value < 0 {
				value = 0
			} else if value > 100 {
				value = 100
			}
			return uint8(value * 255.0 / 100.0)
		}
		value, err := strconv.ParseFloat(component, 64)
		if err != nil {
			return 0
		}
		if value < 0 {
			value = 0
		} else if value > 255 {
			value = 255
		}
		return uint8(value)
	}
	col := rgbColor{
		R: toByte(parts[0]),
		G: toByte(parts[1]),
		B: toByte(parts[2]),
		A: 1,
	}
	if len(parts) >= 4 {
		a := strings.TrimSpace(parts[3])
		if strings.HasSuffix(a, "%") {
			if v, err := strconv.ParseFloat(strings.TrimSuffix(a, "%"), 64); err == nil {
				col.A = v / 100
			}
		} else if v, err := strconv.ParseFloat(a, 64); err == nil {
			col.A = v
		}
	}
	return col, true
}

// cssToHex normalizes common CSS color syntaxes into #rrggbb.
// Fully transparent colors yield "".
func cssToHex(v string) string {
	col, ok := parseCSSColor(v)
	if !ok || col.A == 0 {
		return ""
	}
	return col.hex()
}

// CSSToHex is the exported form of cssToHex.
func CSSToHex(v string) string { return cssToHex(v) }

// IsTransparent reports whether v is a CSS color with zero alpha.
func IsTransparent(v string) bool {
	col, ok := parseCSSColor(v)
	return ok && col.A == 0
}

// IsBlack reports whether v is opaque black in any supported syntax.
func IsBlack(v string) bool {
	return cssToHex(v) == "#000000"
}
