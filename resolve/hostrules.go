package resolve

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Fetch modes a host rule can force.
const (
	ModeAuto   = ""
	ModeCORS   = "cors"
	ModeOpaque = "opaque"
	ModeSkip   = "skip"
)

// HostRule adjusts how images from one host are fetched.
type HostRule struct {
	Mode    string            `json:"mode"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HostRules loads per-host rules from <dir>/<host>.json, trying the full
// host first and then each parent domain.
type HostRules struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*HostRule
}

// NewHostRules returns rules backed by dir. An empty dir disables lookups.
func NewHostRules(dir string) *HostRules {
	return &HostRules{
		dir:   dir,
		cache: make(map[string]*HostRule),
	}
}

// Find returns the rule for target's host or nil.
func (s *HostRules) Find(target string) *HostRule {
	if s == nil {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if rule, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return rule
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if rule := s.load(candidate); rule != nil {
			s.mu.Lock()
			s.cache[host] = rule
			s.mu.Unlock()
			return rule
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *HostRules) load(host string) *HostRule {
	if s.dir == "" {
		return nil
	}
	path := filepath.Join(s.dir, host+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rule HostRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil
	}
	rule.Mode = strings.TrimSpace(strings.ToLower(rule.Mode))
	return &rule
}
