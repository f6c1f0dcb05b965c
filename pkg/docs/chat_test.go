package docs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/llm"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
)

func TestChatAnswersFromChunks(t *testing.T) {
	h := newHarness(t, guideReply, "Pass the timeout option [1].", "Five attempts.")
	g := h.completedGuide(t)
	ctx := context.Background()

	answer, err := h.svc.Chat(ctx, "alice", g.ID, "How do I configure the timeout?")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, answer.Role)
	assert.Equal(t, "Pass the timeout option [1].", answer.Content)
	require.NotEmpty(t, answer.Sources)
	assert.LessOrEqual(t, len(answer.Sources), 3)

	req := h.llm.Requests()[1]
	assert.Equal(t, "docs.chat", req.Feature)
	assert.False(t, req.JSONMode)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, `"Widget Guide"`)
	assert.Contains(t, req.Messages[0].Content, "timeout")

	_, err = h.svc.Chat(ctx, "alice", g.ID, "How many retries?")
	require.NoError(t, err)
	req = h.llm.Requests()[2]
	require.Len(t, req.Messages, 4, "system, previous question, previous answer, question")
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "How do I configure the timeout?", req.Messages[1].Content)
	assert.Equal(t, llm.RoleAssistant, req.Messages[2].Role)

	history, err := h.svc.Messages(ctx, "alice", g.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "Five attempts.", history[3].Content)

	others, err := h.svc.Messages(ctx, "bob", g.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestChatStreamSavesFullAnswer(t *testing.T) {
	h := newHarness(t, guideReply, "Use the timeout option to bound calls.")
	g := h.completedGuide(t)

	var deltas []string
	answer, err := h.svc.ChatStream(context.Background(), "alice", g.ID, "What bounds calls?", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, len(deltas), 1)
	assert.Equal(t, "Use the timeout option to bound calls.", strings.Join(deltas, ""))
	assert.Equal(t, "Use the timeout option to bound calls.", answer.Content)
	assert.NotEmpty(t, answer.Sources)
}

func TestChatStreamAbortsOnEmitError(t *testing.T) {
	h := newHarness(t, guideReply, "one two three")
	g := h.completedGuide(t)
	ctx := context.Background()

	gone := errors.New("client went away")
	_, err := h.svc.ChatStream(ctx, "alice", g.ID, "Anything?", func(string) error { return gone })
	assert.ErrorIs(t, err, gone)

	history, err := h.svc.Messages(ctx, "alice", g.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Submit(ctx, "alice", "https://docs.example.com/widgets", false)
	require.NoError(t, err)

	_, err = h.svc.Chat(ctx, "alice", res.Guide.ID, "Is it ready?")
	assert.ErrorIs(t, err, ErrGuideNotReady)
	assert.ErrorIs(t, err, persistence.ErrConflict)

	_, err = h.svc.Chat(ctx, "alice", res.Guide.ID, strings.Repeat("q", MaxQuestion+1))
	assert.True(t, service.IsValidation(err))

	_, err = h.svc.Chat(ctx, "", res.Guide.ID, "hi")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	_, err = h.svc.Chat(ctx, "alice", "not-a-uuid", "hi")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Equal(t, 0, h.llm.CallCount())
}

func TestSearch(t *testing.T) {
	h := newHarness(t, guideReply)
	g := h.completedGuide(t)
	ctx := context.Background()

	matches, err := h.svc.Search(ctx, g.ID, "timeout option", 2)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.LessOrEqual(t, len(matches), 2)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}

	_, err = h.svc.Search(ctx, g.ID, "timeout", MaxSearchK+1)
	assert.True(t, service.IsValidation(err))
	_, err = h.svc.Search(ctx, g.ID, " ", 0)
	assert.True(t, service.IsValidation(err))
}
