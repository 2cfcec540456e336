package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// Redis hash fields
const (
	fieldRegistry = "registry"
	fieldVersion  = "version"
)

// DefaultRedisKeyPrefix namespaces registry keys when no prefix is configured.
const DefaultRedisKeyPrefix = "mediaref:"

// RedisConfig configures the Redis store.
type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
	// MaxRetries bounds the WATCH retries of Register under contention.
	MaxRetries int
}

// RedisStore keeps each registry in a hash holding the JSON items and a version.
// Writes run under WATCH/MULTI on that hash.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger logging.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, config RedisConfig, logger logging.Logger) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisKeyPrefix
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisStore{
		client: client,
		config: config,
		logger: logger.With(logging.Component("redis_store")),
	}
}

func (s *RedisStore) key(conversationID string) string {
	return s.config.KeyPrefix + "registry:" + conversationID
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*media.Registry, int64, error) {
	fields, err := s.client.HGetAll(ctx, s.key(conversationID)).Result()
	if err != nil {
		return nil, 0, mrerrors.ClassifyError(err, BackendRedis, conversationID)
	}
	return s.decode(fields, conversationID)
}

func (s *RedisStore) decode(fields map[string]string, conversationID string) (*media.Registry, int64, error) {
	if len(fields) == 0 {
		return media.NewRegistry(), 0, nil
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, 0, &mrerrors.StoreError{
			Code:           mrerrors.ErrCorruptRecord,
			Backend:        BackendRedis,
			ConversationID: conversationID,
			Message:        "parse version",
			Cause:          err,
		}
	}
	reg, err := decodeRegistry([]byte(fields[fieldRegistry]), BackendRedis, conversationID)
	if err != nil {
		return nil, 0, err
	}
	return reg, version, nil
}

// write stores reg at version inside the WATCH transaction.
func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, key string, reg *media.Registry, version int64) error {
	data, err := encodeRegistry(reg)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldRegistry, data, fieldVersion, version)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, key, s.config.TTL)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Register(ctx context.Context, conversationID string, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, error) {
	key := s.key(conversationID)
	var out []media.EnhancedMedia

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			reg, version, err := s.decode(fields, conversationID)
			if err != nil {
				return err
			}
			var changed bool
			out, changed, err = registerInto(reg, raws, turn, role)
			if err != nil || !changed {
				return err
			}
			return s.write(ctx, tx, key, reg, version+1)
		}, key)

		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if mrerrors.IsValidation(err) {
				return nil, err
			}
			return nil, mrerrors.ClassifyError(err, BackendRedis, conversationID)
		}
		s.logger.Debug("Register raced with another writer, retrying",
			logging.F("conversation_id", conversationID),
			logging.F("attempt", attempt+1))
	}
	return nil, mrerrors.NewStoreError(mrerrors.ErrVersionConflict, BackendRedis, conversationID, "register kept racing with other writers")
}

func (s *RedisStore) Apply(ctx context.Context, conversationID string, expectedVersion int64, updates []media.Update) (int64, error) {
	key := s.key(conversationID)
	var next int64

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		reg, version, err := s.decode(fields, conversationID)
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return versionConflict(BackendRedis, conversationID, expectedVersion, version)
		}
		if err := reg.Apply(updates); err != nil {
			return err
		}
		next = version + 1
		return s.write(ctx, tx, key, reg, next)
	}, key)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr):
		return 0, mrerrors.NewStoreError(mrerrors.ErrVersionConflict, BackendRedis, conversationID, "registry changed during apply")
	case mrerrors.IsNotFound(err):
		return 0, err
	default:
		return 0, mrerrors.ClassifyError(err, BackendRedis, conversationID)
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
