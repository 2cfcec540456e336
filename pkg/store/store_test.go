package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

func raw(url, name string) media.RawMedia {
	return media.RawMedia{Type: media.TypeImage, URL: url, FileName: name}
}

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, s Store, conv string) {
	ctx := context.Background()

	t.Run("unknown conversation is empty", func(t *testing.T) {
		reg, version, err := s.Load(ctx, conv+"-unknown")
		require.NoError(t, err)
		assert.Equal(t, 0, reg.Len())
		assert.Equal(t, int64(0), version)
	})

	t.Run("register assigns indices once", func(t *testing.T) {
		got, err := s.Register(ctx, conv, []media.RawMedia{raw("u1", "cat.png"), raw("u2", "dog.png")}, 0, media.MessageRoleUser)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].DisplayIndex)
		assert.Equal(t, 2, got[1].DisplayIndex)

		again, err := s.Register(ctx, conv, []media.RawMedia{raw("u3", "logo.png"), raw("u1", "cat.png")}, 2, media.MessageRoleAssistant)
		require.NoError(t, err)
		assert.Equal(t, 3, again[0].DisplayIndex)
		assert.Equal(t, media.SourceAIGenerated, again[0].Source)
		assert.Equal(t, got[0].PersistentID, again[1].PersistentID)
		assert.Equal(t, 1, again[1].ReferenceCount)
		assert.Equal(t, 2, again[1].LastReferencedTurn)

		reg, _, err := s.Load(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, 3, reg.Len())
	})

	t.Run("register of known media records a reference", func(t *testing.T) {
		_, before, err := s.Load(ctx, conv)
		require.NoError(t, err)
		got, err := s.Register(ctx, conv, []media.RawMedia{raw("u2", "dog.png")}, 3, media.MessageRoleUser)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 2, got[0].DisplayIndex)

		reg, after, err := s.Load(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
		assert.Equal(t, 3, reg.Len())
		m, ok := reg.Get(got[0].PersistentID)
		require.True(t, ok)
		assert.Equal(t, 1, m.ReferenceCount)
		assert.Equal(t, 3, m.LastReferencedTurn)
	})

	t.Run("apply bumps version", func(t *testing.T) {
		reg, version, err := s.Load(ctx, conv)
		require.NoError(t, err)
		first := reg.Items()[0]

		next, err := s.Apply(ctx, conv, version, []media.Update{
			media.ReferenceRecorded(first.PersistentID, 4),
			media.TagsComputed(first.PersistentID, []string{}),
		})
		require.NoError(t, err)
		assert.Equal(t, version+1, next)

		reg, loaded, err := s.Load(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, next, loaded)
		m, ok := reg.Get(first.PersistentID)
		require.True(t, ok)
		assert.Equal(t, 2, m.ReferenceCount)
		assert.Equal(t, 4, m.LastReferencedTurn)
		assert.True(t, m.HasTags())
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		reg, version, err := s.Load(ctx, conv)
		require.NoError(t, err)
		id := reg.Items()[0].PersistentID

		_, err = s.Apply(ctx, conv, version-1, []media.Update{media.ReferenceRecorded(id, 5)})
		require.Error(t, err)
		assert.True(t, mrerrors.IsVersionConflict(err))
		assert.True(t, mrerrors.IsConflict(err))
	})

	t.Run("retry recovers from conflict", func(t *testing.T) {
		reg, version, err := s.Load(ctx, conv)
		require.NoError(t, err)
		id := reg.Items()[1].PersistentID

		_, err = s.Apply(ctx, conv, version, []media.Update{media.ReferenceRecorded(id, 6)})
		require.NoError(t, err)

		next, err := ApplyWithRetry(ctx, s, conv, version, []media.Update{media.ReferenceRecorded(id, 7)}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, version+2, next)

		reg, _, err = s.Load(ctx, conv)
		require.NoError(t, err)
		m, _ := reg.Get(id)
		assert.Equal(t, 3, m.ReferenceCount)
		assert.Equal(t, 7, m.LastReferencedTurn)
	})

	t.Run("unknown media in update", func(t *testing.T) {
		_, version, err := s.Load(ctx, conv)
		require.NoError(t, err)
		_, err = s.Apply(ctx, conv, version, []media.Update{media.ReferenceRecorded("im-nope000000", 1)})
		require.Error(t, err)
		assert.True(t, mrerrors.IsNotFound(err))
	})

	t.Run("concurrent registers never reuse an index", func(t *testing.T) {
		cid := conv + "-concurrent"
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Register(ctx, cid, []media.RawMedia{raw(fmt.Sprintf("c%d", i), "x.png")}, 0, media.MessageRoleUser)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				// Only a contended Redis WATCH may give up; it must say so.
				assert.True(t, mrerrors.IsVersionConflict(err), err)
			}
		}

		reg, _, err := s.Load(ctx, cid)
		require.NoError(t, err)
		seen := map[int]bool{}
		for _, m := range reg.Items() {
			assert.False(t, seen[m.DisplayIndex])
			seen[m.DisplayIndex] = true
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore(), "conv-mem")
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Register(ctx, "c", []media.RawMedia{raw("u1", "a.png")}, 0, media.MessageRoleUser)
	require.NoError(t, err)

	reg, _, err := s.Load(ctx, "c")
	require.NoError(t, err)
	_, _, err = reg.Register(raw("u2", "b.png"), 1, media.SourceUserUpload)
	require.NoError(t, err)

	again, _, err := s.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len())
}

func TestMemoryStore_RegisterRejectsMissingURL(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Register(context.Background(), "c", []media.RawMedia{{Type: media.TypeImage}}, 0, media.MessageRoleUser)
	assert.True(t, mrerrors.IsValidation(err))

	_, version, _ := s.Load(context.Background(), "c")
	assert.Equal(t, int64(0), version)
}

// MockStore implements Store for testing retry behaviour.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context, conversationID string) (*media.Registry, int64, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*media.Registry), args.Get(1).(int64), args.Error(2)
}

func (m *MockStore) Register(ctx context.Context, conversationID string, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, error) {
	args := m.Called(ctx, conversationID, raws, turn, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]media.EnhancedMedia), args.Error(1)
}

func (m *MockStore) Apply(ctx context.Context, conversationID string, expectedVersion int64, updates []media.Update) (int64, error) {
	args := m.Called(ctx, conversationID, expectedVersion, updates)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

func TestApplyWithRetry_GivesUp(t *testing.T) {
	ctx := context.Background()
	updates := []media.Update{media.ReferenceRecorded("a", 1)}
	conflict := mrerrors.NewStoreError(mrerrors.ErrVersionConflict, "mock", "c", "moved")

	s := new(MockStore)
	s.On("Apply", ctx, "c", mock.AnythingOfType("int64"), updates).Return(int64(0), conflict)
	s.On("Load", ctx, "c").Return(media.NewRegistry(), int64(9), nil)

	_, err := ApplyWithRetry(ctx, s, "c", 1, updates, 2, nil)
	require.Error(t, err)
	assert.True(t, mrerrors.IsVersionConflict(err))
	s.AssertNumberOfCalls(t, "Apply", 3)
}

func TestApplyWithRetry_NonConflictErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	updates := []media.Update{media.ReferenceRecorded("a", 1)}
	down := mrerrors.NewStoreError(mrerrors.ErrStoreUnavailable, "mock", "c", "down")

	s := new(MockStore)
	s.On("Apply", ctx, "c", int64(4), updates).Return(int64(0), down)

	_, err := ApplyWithRetry(ctx, s, "c", 4, updates, 3, nil)
	assert.ErrorIs(t, err, down)
	s.AssertNumberOfCalls(t, "Apply", 1)
	s.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestApplyWithRetry_NoUpdates(t *testing.T) {
	s := new(MockStore)
	v, err := ApplyWithRetry(context.Background(), s, "c", 7, nil, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	s.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDecodeRegistry_Corrupt(t *testing.T) {
	_, err := decodeRegistry([]byte("{not json"), BackendRedis, "c")
	require.Error(t, err)
	assert.True(t, mrerrors.IsInvalidState(err))

	_, err = decodeRegistry([]byte(`[{"persistentId":"a","displayIndex":0}]`), BackendPostgres, "c")
	require.Error(t, err)
	var se *mrerrors.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, mrerrors.ErrCorruptRecord, se.Code)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MEDIAREF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDIAREF_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := fmt.Sprintf("mediaref-test-%d:", time.Now().UnixNano())
	s := NewRedisStore(client, RedisConfig{KeyPrefix: prefix, TTL: time.Minute, MaxRetries: 20}, nil)
	defer s.Close()

	runStoreSuite(t, s, "conv-redis")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MEDIAREF_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDIAREF_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	s := NewPostgresStore(pool, nil)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	runStoreSuite(t, s, fmt.Sprintf("conv-pg-%d", time.Now().UnixNano()))
}
