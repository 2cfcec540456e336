package audit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/mediaref/pkg/logging"
)

type execCall struct {
	query string
	args  []any
}

type fakeExec struct {
	calls []execCall
	err   error
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return driver.RowsAffected(1), nil
}

func newTestRecorder(f *fakeExec) *PostgresRecorder {
	return &PostgresRecorder{exec: f, logger: logging.NewNopLogger()}
}

func TestRecord(t *testing.T) {
	f := &fakeExec{}
	r := newTestRecorder(f)

	err := r.Record(context.Background(), Entry{
		ConversationID: "conv-1",
		ResolutionID:   "res-1",
		Turn:           3,
		Method:         "numeric_reference",
		Confidence:     1,
		MatchedIndices: []int{2, 4},
		UserIntent:     "numeric_edit",
		Message:        "edit image 2",
		Duration:       1500 * time.Microsecond,
	})
	require.NoError(t, err)
	require.Len(t, f.calls, 1)

	call := f.calls[0]
	assert.Contains(t, call.query, "INSERT INTO media_resolution_audit")
	require.Len(t, call.args, 10)
	assert.Equal(t, "conv-1", call.args[0])
	assert.Equal(t, 3, call.args[2])
	assert.Equal(t, pq.Array([]int64{2, 4}), call.args[5])
	assert.Nil(t, call.args[6], "empty reason is stored as NULL")
	assert.Equal(t, "edit image 2", call.args[8])
	assert.Equal(t, 1, call.args[9])
}

func TestRecord_Error(t *testing.T) {
	f := &fakeExec{err: errors.New("connection reset")}
	err := newTestRecorder(f).Record(context.Background(), Entry{ResolutionID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording audit entry")
}

func TestEnsureSchema(t *testing.T) {
	f := &fakeExec{}
	require.NoError(t, newTestRecorder(f).EnsureSchema(context.Background()))
	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].query, "CREATE TABLE IF NOT EXISTS media_resolution_audit")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hello"},
		{"multibyte boundary", "héllo", 2, "h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestRecord_TruncatesMessage(t *testing.T) {
	f := &fakeExec{}
	long := strings.Repeat("a", MaxExcerptLength+50)
	require.NoError(t, newTestRecorder(f).Record(context.Background(), Entry{Message: long}))
	assert.Len(t, f.calls[0].args[8], MaxExcerptLength)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), Entry{}))
	assert.NoError(t, r.Close())
}
