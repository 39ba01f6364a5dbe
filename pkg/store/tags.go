package store

import (
	"strings"
	"sync"

	"github.com/coregx/ahocorasick"
)

// TagIndex maintains a per-notebook Aho-Corasick automaton over every known
// tag, so a page body can be scanned for tag mentions in one pass instead
// of per-tag substring search. Adapted from the entity-matching dictionary
// pattern (pkg/implicit-matcher): here the "entities" are tags and the
// matched surface form IS the tag, case-folded.
type TagIndex struct {
	mu           sync.RWMutex
	ac           *ahocorasick.Automaton
	patterns     []string          // lowercase tag at each automaton pattern index
	originalCase map[string]string // lowercase tag -> last-seen original case
}

// NewTagIndex creates an empty index; call Rebuild once tags are known.
func NewTagIndex() *TagIndex {
	return &TagIndex{originalCase: make(map[string]string)}
}

// Rebuild recompiles the automaton from the full known tag set. Called
// whenever a page is saved with tags the index hasn't seen, since the
// automaton itself is immutable once built.
func (idx *TagIndex) Rebuild(tagsByLower map[string]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	patterns := make([]string, 0, len(tagsByLower))
	for lower := range tagsByLower {
		patterns = append(patterns, lower)
	}

	if len(patterns) == 0 {
		idx.ac = nil
		idx.patterns = nil
		idx.originalCase = make(map[string]string)
		return nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return err
	}

	idx.ac = automaton
	idx.patterns = patterns
	idx.originalCase = make(map[string]string, len(tagsByLower))
	for lower, original := range tagsByLower {
		idx.originalCase[lower] = original
	}
	return nil
}

// ScanMentions returns the original-case tags mentioned anywhere in text,
// deduplicated. Used to suggest existing tags while a page is being edited.
func (idx *TagIndex) ScanMentions(text string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.ac == nil {
		return nil
	}

	matches := idx.ac.FindAllOverlapping([]byte(strings.ToLower(text)))
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if m.PatternID < 0 || m.PatternID >= len(idx.patterns) {
			continue
		}
		lower := idx.patterns[m.PatternID]
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, idx.originalCase[lower])
	}
	return out
}

// Has reports whether tag (case-insensitive) is present in the index.
func (idx *TagIndex) Has(tag string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.originalCase[strings.ToLower(tag)]
	return ok
}
