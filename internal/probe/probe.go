// Package probe defines the repository prober contract used to gather
// evidence for an analysis, plus the fan-out and caching around it.
package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Snapshot is the best-effort surface view of one repository. A failed
// probe has Success false, an Error message and no evidence.
type Snapshot struct {
	Ref            string   `json:"ref"`
	Success        bool     `json:"success"`
	Name           string   `json:"name,omitempty"`
	Owner          string   `json:"owner,omitempty"`
	Files          []string `json:"files,omitempty"`
	Config         string   `json:"config,omitempty"`
	ConfigFileName string   `json:"configFileName,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// HasConfig reports whether a manifest excerpt was captured.
func (s Snapshot) HasConfig() bool {
	return s.Config != ""
}

// HasFile reports whether name is among the top-level files.
func (s Snapshot) HasFile(name string) bool {
	for _, f := range s.Files {
		if f == name {
			return true
		}
	}
	return false
}

// Failed builds the snapshot of an unsuccessful probe.
func Failed(ref, msg string) Snapshot {
	return Snapshot{Ref: ref, Error: msg}
}

// Prober inspects one repository reference. Implementations never fail:
// every problem is folded into the returned Snapshot.
type Prober interface {
	Probe(ctx context.Context, ref string) Snapshot
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context, ref string) Snapshot

// Probe calls f.
func (f Func) Probe(ctx context.Context, ref string) Snapshot { return f(ctx, ref) }

// All probes every ref concurrently and returns the snapshots in input
// order. It waits for every probe; a failing or panicking probe only
// yields a failed snapshot for its own ref.
func All(ctx context.Context, p Prober, refs []string) []Snapshot {
	out := make([]Snapshot, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					out[i] = Failed(ref, fmt.Sprintf("probe panicked: %v", r))
				}
			}()
			snap := p.Probe(ctx, ref)
			snap.Ref = ref
			out[i] = snap
		}(i, ref)
	}
	wg.Wait()
	return out
}

// Truncate bounds s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// CacheKey normalizes a reference so trivially different spellings of the
// same repository share one cache entry.
func CacheKey(ref string) string {
	k := strings.ToLower(strings.TrimSpace(ref))
	k = strings.TrimSuffix(k, "/")
	k = strings.TrimSuffix(k, ".git")
	k = strings.TrimPrefix(k, "https://")
	k = strings.TrimPrefix(k, "http://")
	k = strings.TrimPrefix(k, "www.")
	return k
}
