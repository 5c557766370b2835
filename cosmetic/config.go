// Package cosmetic implements the cosmetic transforms applied to a copied
// fragment: heading remap, link processing, footer filtering and empty-line
// cleanup.
package cosmetic

import "strings"

// Config holds the four named cosmetic records.
type Config struct {
	Heading   HeadingConfig   `yaml:"heading" json:"heading"`
	Links     LinksConfig     `yaml:"links" json:"links"`
	Footer    FooterConfig    `yaml:"footer" json:"footer"`
	EmptyLine EmptyLineConfig `yaml:"emptyLine" json:"emptyLine"`
}

// HeadingConfig maps source heading tags to replacement tags.
type HeadingConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Mapping map[string]string `yaml:"mapping" json:"mapping"`
}

// LinksConfig controls anchor defanging.
type LinksConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	RemoveLinks      bool   `yaml:"removeLinks" json:"removeLinks"`
	ConvertToRedText bool   `yaml:"convertToRedText" json:"convertToRedText"`
	Color            string `yaml:"color" json:"color"`
}

// FooterConfig lists extra keywords that mark copyright boilerplate.
type FooterConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// EmptyLineConfig toggles the three cleanup steps.
type EmptyLineConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RemoveEmptyBlocks bool `yaml:"removeEmptyBlocks" json:"removeEmptyBlocks"`
	CollapseBreaks    bool `yaml:"collapseBreaks" json:"collapseBreaks"`
	ClampMargins      bool `yaml:"clampMargins" json:"clampMargins"`
}

// DefaultLinkColor is the highlight used when none is configured.
const DefaultLinkColor = "#ff0000"

// Default returns the configuration used before anything is persisted.
func Default() Config {
	return Config{
		Heading: HeadingConfig{
			Mapping: map[string]string{"h1": "h2"},
		},
		Links: LinksConfig{
			RemoveLinks:      true,
			ConvertToRedText: true,
			Color:            DefaultLinkColor,
		},
		Footer: FooterConfig{},
		EmptyLine: EmptyLineConfig{
			Enabled:           true,
			RemoveEmptyBlocks: true,
			CollapseBreaks:    true,
			ClampMargins:      true,
		},
	}
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Heading.Mapping != nil {
		out.Heading.Mapping = make(map[string]string, len(c.Heading.Mapping))
		for k, v := range c.Heading.Mapping {
			out.Heading.Mapping[k] = v
		}
	}
	out.Footer.Keywords = append([]string(nil), c.Footer.Keywords...)
	return out
}

func (c *Config) normalize() {
	if len(c.Heading.Mapping) > 0 {
		m := make(map[string]string, len(c.Heading.Mapping))
		for k, v := range c.Heading.Mapping {
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.ToLower(strings.TrimSpace(v))
			if k == "" || v == "" {
				continue
			}
			m[k] = v
		}
		c.Heading.Mapping = m
	}
	if strings.TrimSpace(c.Links.Color) == "" {
		c.Links.Color = DefaultLinkColor
	}
	kws := c.Footer.Keywords[:0]
	for _, kw := range c.Footer.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			kws = append(kws, kw)
		}
	}
	c.Footer.Keywords = kws
}
