// Package store persists per-conversation media registries.
//
// Every backend uses the same write discipline: a registry carries a version,
// writers state the version they read, and a write against a moved version
// fails with a version_conflict error. Display indices are assigned inside
// that discipline, so an index is never handed out twice.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Store persists media registries keyed by conversation.
type Store interface {
	// Load returns the registry and its version. An unknown conversation
	// yields an empty registry at version 0.
	Load(ctx context.Context, conversationID string) (*media.Registry, int64, error)

	// Register adds raws first seen at turn and returns the entry for each raw,
	// in order. Already known media get a reference recorded at turn.
	Register(ctx context.Context, conversationID string, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, error)

	// Apply applies updates if the stored version still equals expectedVersion
	// and returns the new version.
	Apply(ctx context.Context, conversationID string, expectedVersion int64, updates []media.Update) (int64, error)

	Close() error
}

// DefaultMaxRetries bounds ApplyWithRetry when the caller passes zero.
const DefaultMaxRetries = 3

// ApplyWithRetry applies updates, reloading the version and trying again on
// version conflicts. Updates are deltas keyed by persistent ID, so they stay
// valid against a newer registry.
func ApplyWithRetry(ctx context.Context, s Store, conversationID string, version int64, updates []media.Update, maxRetries int, logger logging.Logger) (int64, error) {
	if len(updates) == 0 {
		return version, nil
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		next, err := s.Apply(ctx, conversationID, version, updates)
		if err == nil {
			return next, nil
		}
		if !mrerrors.IsVersionConflict(err) {
			return 0, err
		}
		lastErr = err
		if attempt >= maxRetries {
			break
		}
		if ctx.Err() != nil {
			return 0, mrerrors.ClassifyError(ctx.Err(), "", conversationID)
		}

		logger.Debug("Registry version moved, reloading",
			logging.F("conversation_id", conversationID),
			logging.F("attempt", attempt+1),
			logging.F("expected_version", version))

		_, version, err = s.Load(ctx, conversationID)
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("apply after %d retries: %w", maxRetries, lastErr)
}

// registerInto adds raws to reg and reports whether reg changed. A raw that
// is already known records a reference at turn, as media.Registry.AddMessage does.
func registerInto(reg *media.Registry, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, bool, error) {
	source := media.SourceFor(role)
	out := make([]media.EnhancedMedia, 0, len(raws))
	changed := false
	for _, raw := range raws {
		m, created, err := reg.Register(raw, turn, source)
		if err != nil {
			return nil, false, err
		}
		if !created {
			if err := reg.Apply([]media.Update{media.ReferenceRecorded(m.PersistentID, turn)}); err != nil {
				return nil, false, err
			}
			m, _ = reg.Get(m.PersistentID)
		}
		changed = true
		out = append(out, m)
	}
	return out, changed, nil
}

func encodeRegistry(reg *media.Registry) ([]byte, error) {
	return json.Marshal(reg.Items())
}

func decodeRegistry(data []byte, backend, conversationID string) (*media.Registry, error) {
	if len(data) == 0 {
		return media.NewRegistry(), nil
	}
	var items []media.EnhancedMedia
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &mrerrors.StoreError{
			Code:           mrerrors.ErrCorruptRecord,
			Backend:        backend,
			ConversationID: conversationID,
			Message:        "decode registry",
			Cause:          err,
		}
	}
	reg, err := media.RegistryFrom(items)
	if err != nil {
		return nil, &mrerrors.StoreError{
			Code:           mrerrors.ErrCorruptRecord,
			Backend:        backend,
			ConversationID: conversationID,
			Message:        "stored registry violates invariants",
			Cause:          err,
		}
	}
	return reg, nil
}

func versionConflict(backend, conversationID string, expected, actual int64) error {
	return mrerrors.NewStoreError(mrerrors.ErrVersionConflict, backend, conversationID,
		fmt.Sprintf("expected version %d, found %d", expected, actual))
}
