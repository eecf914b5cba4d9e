package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmflow/graphrag/pkg/domain"
)

func testSessions(t *testing.T) (*Sessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionsWithClient(client, time.Hour, 5, zerolog.Nop()), mr
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := testSessions(t)
	ctx := context.Background()

	state, err := s.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, state.SessionID)

	state.CurrentIntent = "해지_환급금"
	state.CollectedValues["product_name"] = "변액연금"
	require.NoError(t, s.Save(ctx, state))

	loaded, err := s.Get(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "해지_환급금", loaded.CurrentIntent)
	assert.Equal(t, "변액연금", loaded.CollectedValues["product_name"])
}

func TestSessionGetMissing(t *testing.T) {
	s, _ := testSessions(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionGetOrCreateExisting(t *testing.T) {
	s, _ := testSessions(t)
	ctx := context.Background()

	state, _ := s.GetOrCreate(ctx, "sess-1")
	state.CurrentIntent = "보험금_청구"
	require.NoError(t, s.Save(ctx, state))

	again, err := s.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "보험금_청구", again.CurrentIntent)
}

func TestSessionTTLRefreshedOnSave(t *testing.T) {
	s, mr := testSessions(t)
	ctx := context.Background()

	state, _ := s.GetOrCreate(ctx, "sess-1")
	require.NoError(t, s.Save(ctx, state))

	// Let some TTL elapse, then write again: TTL snaps back to full.
	mr.FastForward(30 * time.Minute)
	require.NoError(t, s.Save(ctx, state))

	ttl, err := s.TTL(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestSessionExpires(t *testing.T) {
	s, mr := testSessions(t)
	ctx := context.Background()

	state, _ := s.GetOrCreate(ctx, "sess-1")
	require.NoError(t, s.Save(ctx, state))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionHistoryTrimmed(t *testing.T) {
	s, _ := testSessions(t)
	ctx := context.Background()

	state, _ := s.GetOrCreate(ctx, "sess-1")
	for i := 0; i < 8; i++ {
		state.ConversationHistory = append(state.ConversationHistory,
			domain.HistoryMessage{Role: "user", Content: string(rune('a' + i))})
	}
	require.NoError(t, s.Save(ctx, state))

	loaded, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded.ConversationHistory, 5, "history trims to the limit")
	assert.Equal(t, "d", loaded.ConversationHistory[0].Content, "oldest entries go first")
	assert.Equal(t, "h", loaded.ConversationHistory[4].Content)
}

func TestSessionResetPreservesHistory(t *testing.T) {
	s, _ := testSessions(t)
	ctx := context.Background()

	state, _ := s.GetOrCreate(ctx, "sess-1")
	state.CurrentIntent = "해지_환급금"
	state.CurrentNodeID = "cond_product"
	state.CollectedValues["product_name"] = "변액연금"
	state.ConversationHistory = []domain.HistoryMessage{{Role: "user", Content: "hello"}}
	require.NoError(t, s.Save(ctx, state))

	reset, err := s.Reset(ctx, "sess-1")
	require.NoError(t, err)

	assert.Empty(t, reset.CurrentIntent)
	assert.Empty(t, reset.CurrentNodeID)
	assert.Empty(t, reset.CollectedValues)
	require.Len(t, reset.ConversationHistory, 1, "reset keeps the transcript")
}

func TestSessionDeleteAndList(t *testing.T) {
	s, _ := testSessions(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2"} {
		state, _ := s.GetOrCreate(ctx, id)
		require.NoError(t, s.Save(ctx, state))
	}

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, ids)

	require.NoError(t, s.Delete(ctx, "sess-1"))
	assert.ErrorIs(t, s.Delete(ctx, "sess-1"), domain.ErrNotFound)

	ids, _ = s.List(ctx)
	assert.Equal(t, []string{"sess-2"}, ids)
}
