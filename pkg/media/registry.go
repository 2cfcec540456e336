package media

import (
	"fmt"
	"sort"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/mediaid"
)

// Registry is the ordered set of media known to a conversation.
//
// Entries live in a map keyed by persistent ID; order holds the IDs by display
// index. Values returned from the registry are copies, so callers never hold
// a pointer into it. A Registry is not safe for concurrent writers.
type Registry struct {
	order []string
	items map[string]EnhancedMedia
	byURL map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]EnhancedMedia),
		byURL: make(map[string]string),
	}
}

// RegistryFrom rebuilds a registry from previously persisted entries.
// The entries may be in any order; they are validated before use.
func RegistryFrom(entries []EnhancedMedia) (*Registry, error) {
	sorted := make([]EnhancedMedia, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayIndex < sorted[j].DisplayIndex
	})
	if err := ValidateItems(sorted); err != nil {
		return nil, err
	}

	r := NewRegistry()
	for _, m := range sorted {
		r.insert(m.Clone())
	}
	return r, nil
}

// ValidateItems checks the invariants a media list must hold before resolution:
// every item has a persistent ID and a display index of at least 1, and no
// persistent ID appears twice. When display indices are increasing, upload turns
// must not decrease along them.
func ValidateItems(items []EnhancedMedia) error {
	seen := make(map[string]bool, len(items))
	for i, m := range items {
		if m.PersistentID == "" {
			return mrerrors.Precondition("persistentId", "item %d has no persistent ID", i)
		}
		if m.DisplayIndex < 1 {
			return mrerrors.Precondition("displayIndex", "item %s has display index %d", m.PersistentID, m.DisplayIndex)
		}
		if seen[m.PersistentID] {
			return mrerrors.Precondition("persistentId", "duplicate persistent ID %s", m.PersistentID)
		}
		seen[m.PersistentID] = true

		if i == 0 {
			continue
		}
		prev := items[i-1]
		if m.DisplayIndex == prev.DisplayIndex {
			return mrerrors.Precondition("displayIndex", "display index %d used by %s and %s", m.DisplayIndex, prev.PersistentID, m.PersistentID)
		}
		if m.DisplayIndex > prev.DisplayIndex && m.UploadTurn < prev.UploadTurn {
			return mrerrors.Precondition("uploadTurn", "display index %d uploaded at turn %d, before index %d at turn %d",
				m.DisplayIndex, m.UploadTurn, prev.DisplayIndex, prev.UploadTurn)
		}
	}
	return nil
}

func (r *Registry) insert(m EnhancedMedia) {
	r.order = append(r.order, m.PersistentID)
	r.items[m.PersistentID] = m
	if m.URL != "" {
		if _, ok := r.byURL[m.URL]; !ok {
			r.byURL[m.URL] = m.PersistentID
		}
	}
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.order)
}

// Items returns a copy of every entry ordered by display index.
func (r *Registry) Items() []EnhancedMedia {
	out := make([]EnhancedMedia, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id].Clone())
	}
	return out
}

// Get returns the entry with the given persistent ID.
func (r *Registry) Get(id string) (EnhancedMedia, bool) {
	m, ok := r.items[id]
	if !ok {
		return EnhancedMedia{}, false
	}
	return m.Clone(), true
}

// FindByURL returns the first entry registered under url.
func (r *Registry) FindByURL(url string) (EnhancedMedia, bool) {
	id, ok := r.byURL[url]
	if !ok {
		return EnhancedMedia{}, false
	}
	return r.Get(id)
}

// ByDisplayIndex returns the entry users call "image n".
func (r *Registry) ByDisplayIndex(n int) (EnhancedMedia, bool) {
	if n < 1 {
		return EnhancedMedia{}, false
	}
	// Indices are dense when the registry was built here; fall back to a scan for restored data.
	if n <= len(r.order) {
		if m := r.items[r.order[n-1]]; m.DisplayIndex == n {
			return m.Clone(), true
		}
	}
	for _, id := range r.order {
		if m := r.items[id]; m.DisplayIndex == n {
			return m.Clone(), true
		}
	}
	return EnhancedMedia{}, false
}

// NextDisplayIndex is the index the next new entry will receive.
func (r *Registry) NextDisplayIndex() int {
	if len(r.order) == 0 {
		return 1
	}
	return r.items[r.order[len(r.order)-1]].DisplayIndex + 1
}

// Lookup finds an existing entry for raw: by persistent ID when raw carries one,
// otherwise by exact URL.
func (r *Registry) Lookup(raw RawMedia) (EnhancedMedia, bool) {
	if raw.PersistentID != "" {
		return r.Get(raw.PersistentID)
	}
	return r.FindByURL(raw.URL)
}

// Register adds raw as a new entry first seen at turn, unless it is already known.
// The boolean result reports whether a new entry was created. Existing entries
// are returned unchanged.
func (r *Registry) Register(raw RawMedia, turn int, source Source) (EnhancedMedia, bool, error) {
	if raw.URL == "" {
		return EnhancedMedia{}, false, mrerrors.Precondition("url", "attachment at turn %d has no URL", turn)
	}
	if turn < 0 {
		return EnhancedMedia{}, false, mrerrors.Precondition("turn", "turn %d is negative", turn)
	}
	if existing, ok := r.Lookup(raw); ok {
		return existing, false, nil
	}
	if n := len(r.order); n > 0 && r.items[r.order[n-1]].UploadTurn > turn {
		return EnhancedMedia{}, false, mrerrors.Precondition("turn", "turn %d precedes the latest upload turn", turn)
	}

	typ := InferType(raw)
	id := raw.PersistentID
	if id == "" {
		id = mediaid.ForType(string(typ))
	}
	if raw.Source != "" {
		source = raw.Source
	}

	m := EnhancedMedia{
		PersistentID:       id,
		URL:                raw.URL,
		Type:               typ,
		MimeType:           raw.MimeType,
		FileSizeBytes:      raw.FileSizeBytes,
		FileName:           raw.FileName,
		DisplayIndex:       r.NextDisplayIndex(),
		UploadTurn:         turn,
		Source:             source,
		LastReferencedTurn: turn,
	}
	r.insert(m)
	return m.Clone(), true, nil
}

// Apply applies updates in order. Updates naming an unknown entry fail with
// ErrNotFound and leave the registry untouched.
func (r *Registry) Apply(updates []Update) error {
	for _, u := range updates {
		if _, ok := r.items[u.PersistentID]; !ok {
			return fmt.Errorf("%w: update for unknown media %s", mrerrors.ErrNotFound, u.PersistentID)
		}
	}
	for _, u := range updates {
		r.items[u.PersistentID] = u.ApplyTo(r.items[u.PersistentID])
	}
	return nil
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		order: append([]string(nil), r.order...),
		items: make(map[string]EnhancedMedia, len(r.items)),
		byURL: make(map[string]string, len(r.byURL)),
	}
	for id, m := range r.items {
		c.items[id] = m.Clone()
	}
	for url, id := range r.byURL {
		c.byURL[url] = id
	}
	return c
}
