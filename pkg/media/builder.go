package media

// BuildRegistry walks messages in order and returns the registry of every
// attachment seen, ordered by display index.
//
// An attachment is matched to an existing entry by persistent ID when it carries
// one, else by exact URL. A match records a reference at that message's index;
// a miss creates an entry with the next display index. The result depends only
// on messages, apart from the random component of generated persistent IDs.
func BuildRegistry(messages []Message) (*Registry, error) {
	r := NewRegistry()
	for turn, msg := range messages {
		if _, err := r.AddMessage(msg, turn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddMessage registers the attachments of one message at turn and returns the
// entries it touched, in attachment order.
func (r *Registry) AddMessage(msg Message, turn int) ([]EnhancedMedia, error) {
	source := SourceFor(msg.Role)
	out := make([]EnhancedMedia, 0, len(msg.Media))
	for _, raw := range msg.Media {
		m, created, err := r.Register(raw, turn, source)
		if err != nil {
			return nil, err
		}
		if !created {
			if err := r.Apply([]Update{ReferenceRecorded(m.PersistentID, turn)}); err != nil {
				return nil, err
			}
			m, _ = r.Get(m.PersistentID)
		}
		out = append(out, m)
	}
	return out, nil
}
