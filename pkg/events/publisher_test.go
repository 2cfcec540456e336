package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent("test.event")

	assert.Equal(t, "test.event", event.EventType)
	assert.Equal(t, "mediaref", event.Source)
	assert.Equal(t, "1.0", event.Version)
	assert.False(t, event.Timestamp.IsZero())
	assert.Len(t, event.EventID, 36)
	assert.NotEqual(t, event.EventID, NewBaseEvent("test.event").EventID)
}

func TestPublishResolved(t *testing.T) {
	fake := &fakeRedis{}
	p := newPublisher(fake, "", nil)

	err := p.PublishResolved(context.Background(), ResolvedParams{
		ConversationID: "conv-1",
		ResolutionID:   "res-1",
		Turn:           4,
		Method:         "numeric_reference",
		Confidence:     1,
		MatchedIndices: []int{2},
		UserIntent:     "numeric_edit",
		PersistentIDs:  []string{"im-0000abcdef"},
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "events.media.resolved", fake.sent[0].channel)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.sent[0].payload, &got))
	assert.Equal(t, "media.resolved", got["event_type"])
	assert.Equal(t, "conv-1", got["conversation_id"])
	assert.Equal(t, "res-1", got["correlation_id"])
	assert.Equal(t, []interface{}{float64(2)}, got["matched_indices"])
	assert.Equal(t, []interface{}{"im-0000abcdef"}, got["persistent_ids"])
}

func TestPublishDisambiguationRequired(t *testing.T) {
	fake := &fakeRedis{}
	p := newPublisher(fake, "staging.events.", nil)

	err := p.PublishDisambiguationRequired(context.Background(), DisambiguationParams{
		ConversationID: "conv-1",
		ResolutionID:   "res-2",
		Reason:         "multiple_files_same_name",
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "staging.events.media.disambiguation_required", fake.sent[0].channel)

	var got DisambiguationRequiredEvent
	require.NoError(t, json.Unmarshal(fake.sent[0].payload, &got))
	assert.Equal(t, "multiple_files_same_name", got.Reason)
	assert.NotNil(t, got.CandidateIndices)
}

func TestPublish_Error(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	p := newPublisher(fake, "", nil)

	err := p.PublishResolved(context.Background(), ResolvedParams{ConversationID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.media.resolved")
}

func TestPublisher_Close(t *testing.T) {
	fake := &fakeRedis{}
	require.NoError(t, newPublisher(fake, "", nil).Close())
	assert.True(t, fake.closed)
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	assert.NoError(t, p.PublishResolved(context.Background(), ResolvedParams{}))
	assert.NoError(t, p.PublishDisambiguationRequired(context.Background(), DisambiguationParams{}))
	assert.NoError(t, p.Close())
}
