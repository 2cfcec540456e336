package media

// UpdateKind identifies a statistic change produced by a resolution.
type UpdateKind string

const (
	// UpdateReferenceRecorded bumps ReferenceCount and LastReferencedTurn.
	UpdateReferenceRecorded UpdateKind = "reference_recorded"
	// UpdateTagsComputed stores lazily computed semantic tags.
	UpdateTagsComputed UpdateKind = "tags_computed"
)

// Update is a delta against one registry entry, keyed by persistent ID.
// Resolution never writes to records directly; callers apply updates with
// Registry.Apply or through a store.
type Update struct {
	PersistentID string     `json:"persistentId"`
	Kind         UpdateKind `json:"kind"`
	Turn         int        `json:"turn,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// ReferenceRecorded builds an update recording that id was referenced at turn.
func ReferenceRecorded(id string, turn int) Update {
	return Update{PersistentID: id, Kind: UpdateReferenceRecorded, Turn: turn}
}

// TagsComputed builds an update carrying freshly computed tags for id.
func TagsComputed(id string, tags []string) Update {
	if tags == nil {
		tags = []string{}
	}
	return Update{PersistentID: id, Kind: UpdateTagsComputed, Tags: append([]string{}, tags...)}
}

// ApplyTo returns m with the update applied.
//
// LastReferencedTurn only moves forward, and tags already present are kept,
// so applying a stale update after a newer one is harmless.
func (u Update) ApplyTo(m EnhancedMedia) EnhancedMedia {
	m = m.Clone()
	switch u.Kind {
	case UpdateReferenceRecorded:
		m.ReferenceCount++
		if u.Turn > m.LastReferencedTurn {
			m.LastReferencedTurn = u.Turn
		}
	case UpdateTagsComputed:
		if m.SemanticTags == nil {
			m.SemanticTags = append([]string{}, u.Tags...)
		}
	}
	return m
}
