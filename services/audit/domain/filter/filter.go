// Package filter decides which events are suppressed before any listener
// sees them. Decisions are pure and driven only by static configuration.
package filter

import (
	"strings"

	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// Policy is the decision for events named in neither list.
type Policy string

const (
	PolicyDoFilter    Policy = "DO_FILTER"
	PolicyDoNotFilter Policy = "DO_NOT_FILTER"
)

// Config mirrors the AUDIT_FILTER_* settings. Keys are TYPE-TARGET pairs
// such as "MODIFIED-ENTITLEMENT".
type Config struct {
	Enabled           bool
	Policy            Policy
	DoFilter          []string
	DoNotFilter       []string
	FilterSystemEvent bool
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	enabled     bool
	defaultDrop bool
	dropSystem  bool
	doFilter    map[string]struct{}
	doNotFilter map[string]struct{}
}

// New builds a Filter from cfg. Keys are normalised to upper case.
func New(cfg Config) *Filter {
	return &Filter{
		enabled:     cfg.Enabled,
		defaultDrop: cfg.Policy == PolicyDoFilter,
		dropSystem:  cfg.FilterSystemEvent,
		doFilter:    toSet(cfg.DoFilter),
		doNotFilter: toSet(cfg.DoNotFilter),
	}
}

// ShouldFilter reports whether e must be discarded. The do-not-filter list
// wins over the do-filter list.
func (f *Filter) ShouldFilter(e events.Event) bool {
	if f == nil || !f.enabled {
		return false
	}

	key := e.Key()
	if _, ok := f.doNotFilter[key]; ok {
		return false
	}
	if _, ok := f.doFilter[key]; ok {
		return true
	}
	if f.dropSystem && e.Principal.IsSystem() {
		return true
	}
	return f.defaultDrop
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}
