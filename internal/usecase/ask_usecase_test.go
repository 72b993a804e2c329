package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const noInfo = "The knowledge base has no information to answer this question."

func testAskConfig() usecase.AskConfig {
	cfg := usecase.DefaultAskConfig()
	cfg.NoInfoAnswer = noInfo
	cfg.MaxTokens = 512
	cfg.Retry = usecase.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, Timeout: time.Second}
	return cfg
}

type askFixture struct {
	index    *mockVectorIndex
	llm      *mockLLMClient
	history  *fakeHistory
	observer *recordingObserver
	uc       usecase.AskUsecase
}

func newAskFixture(t *testing.T) *askFixture {
	t.Helper()
	f := &askFixture{
		index:    new(mockVectorIndex),
		llm:      new(mockLLMClient),
		history:  newFakeHistory(),
		observer: &recordingObserver{},
	}
	uc, err := usecase.NewAskUsecase(f.index, f.history, usecase.NewGroundedPromptBuilder(), f.llm, testAskConfig(),
		usecase.WithAskObserver(f.observer))
	require.NoError(t, err)
	f.uc = uc
	return f
}

func TestAsk_GatePasses_ForwardsOnlyQualifyingChunks(t *testing.T) {
	ctx := context.Background()
	f := newAskFixture(t)

	f.index.On("Query", mock.Anything, "How do I calm down?", 3).Return([]domain.RetrievalResult{
		result("doc-a", "Slow breathing lowers arousal.", 0.9),
		result("doc-b", "Grounding uses the five senses.", 0.6),
		result("doc-c", "Unrelated tax advice.", 0.3),
	}, nil)

	var captured domain.GenerationRequest
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		captured = req
		return true
	})).Return(&domain.LLMResponse{Text: "  Try slow breathing [Source 1].  ", Done: true}, nil)

	out, err := f.uc.Execute(ctx, usecase.AskInput{SessionID: "s1", Query: "  How do I calm down?  "})
	require.NoError(t, err)

	assert.True(t, out.HasRelevantInfo)
	assert.Equal(t, "Try slow breathing [Source 1].", out.Answer)
	require.Len(t, out.Sources, 2)
	assert.Equal(t, 1, out.Sources[0].Number)
	assert.Equal(t, "Slow breathing lowers arousal.", out.Sources[0].Text)
	assert.Equal(t, "0.900", out.Sources[0].FormattedSimilarity())
	assert.Equal(t, 2, out.Sources[1].Number)
	assert.Equal(t, "0.600", out.Sources[1].FormattedSimilarity())

	assert.Contains(t, captured.SystemInstruction, "[Source 1]:\nSlow breathing lowers arousal.")
	assert.Contains(t, captured.SystemInstruction, "[Source 2]:\nGrounding uses the five senses.")
	assert.NotContains(t, captured.SystemInstruction, "Unrelated tax advice.")
	assert.NotContains(t, captured.SystemInstruction, "[Source 3]")
	assert.Equal(t, domain.UserTurn("QUESTION: How do I calm down?"), captured.NewTurn)
	assert.Empty(t, captured.History)
	assert.Equal(t, 512, captured.MaxTokens)

	assert.Equal(t, []domain.Turn{
		domain.UserTurn("How do I calm down?"),
		domain.ModelTurn("Try slow breathing [Source 1]."),
	}, f.history.turns("s1"))
	assert.Equal(t, []string{"answered"}, f.observer.outcomes)
}

func TestAsk_GateFails_ReturnsFixedAnswerAndRecordsPair(t *testing.T) {
	ctx := context.Background()
	f := newAskFixture(t)

	f.index.On("Query", mock.Anything, "What is the capital of Peru?", 3).Return([]domain.RetrievalResult{
		result("doc-a", "Sleep hygiene basics.", 0.31),
		result("doc-b", "Journaling prompts.", 0.2),
	}, nil)

	out, err := f.uc.Execute(ctx, usecase.AskInput{SessionID: "s1", Query: "What is the capital of Peru?"})
	require.NoError(t, err)

	assert.Equal(t, noInfo, out.Answer)
	assert.NotNil(t, out.Sources)
	assert.Empty(t, out.Sources)
	assert.False(t, out.HasRelevantInfo)
	f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	assert.Equal(t, []domain.Turn{
		domain.UserTurn("What is the capital of Peru?"),
		domain.ModelTurn(noInfo),
	}, f.history.turns("s1"))
	assert.Equal(t, []string{"no_relevant_info"}, f.observer.outcomes)
}

func TestAsk_OnlyTopResultDecidesTheGate(t *testing.T) {
	ctx := context.Background()
	f := newAskFixture(t)

	f.index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{
		result("doc-a", "weak", 0.4),
		result("doc-b", "strong but second", 0.95),
	}, nil)

	out, err := f.uc.Execute(ctx, usecase.AskInput{SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.False(t, out.HasRelevantInfo)
	assert.Empty(t, out.Sources)
}

func TestAsk_SequentialCallsAppendAlternatingTurns(t *testing.T) {
	ctx := context.Background()
	f := newAskFixture(t)

	f.index.On("Query", mock.Anything, mock.Anything, 3).Return([]domain.RetrievalResult{
		result("doc-a", "context", 0.8),
	}, nil)
	f.llm.On("Generate", mock.Anything, mock.Anything).Return(&domain.LLMResponse{Text: "answer", Done: true}, nil)

	const n = 4
	for i := 0; i < n; i++ {
		_, err := f.uc.Execute(ctx, usecase.AskInput{SessionID: "s1", Query: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
	}

	turns := f.history.turns("s1")
	require.Len(t, turns, 2*n)
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, domain.RoleUser, turn.Role)
			assert.Equal(t, fmt.Sprintf("question %d", i/2), turn.Text)
		} else {
			assert.Equal(t, domain.RoleModel, turn.Role)
		}
	}
}

func TestAsk_GeneratorReceivesPriorHistory(t *testing.T) {
	ctx := context.Background()
	f := newAskFixture(t)

	prior := []domain.Turn{
		domain.UserTurn("I feel anxious"),
		domain.ModelTurn("That sounds hard. What is on your mind?"),
	}
	require.NoError(t, f.history.Put(ctx, "s1", prior))

	f.index.On("Query", mock.Anything, "what did I just say?", 3).Return([]domain.RetrievalResult{
		result("doc-a", "Anxiety is a normal response to stress.", 0.55),
		result("doc-b", "Unrelated", 0.12),
	}, nil)
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return assert.ObjectsAreEqual(prior, req.History) &&
			strings.Contains(req.SystemInstruction, "[Source 1]") &&
			!strings.Contains(req.SystemInstruction, "[Source 2]") &&
			req.NewTurn == domain.UserTurn("QUESTION: what did I just say?")
	})).Return(&domain.LLMResponse{Text: "You said you feel anxious.", Done: true}, nil)

	out, err := f.uc.Execute(ctx, usecase.AskInput{SessionID: "s1", Query: "what did I just say?"})
	require.NoError(t, err)
	assert.Equal(t, "You said you feel anxious.", out.Answer)
	require.Len(t, out.Sources, 1)
	f.llm.AssertExpectations(t)

	assert.Len(t, f.history.turns("s1"), 4)
}

func TestAsk_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input usecase.AskInput
	}{
		{name: "missing session", input: usecase.AskInput{Query: "hi"}},
		{name: "missing query", input: usecase.AskInput{SessionID: "s1"}},
		{name: "whitespace query", input: usecase.AskInput{SessionID: "s1", Query: " \n\t "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAskFixture(t)
			_, err := f.uc.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.ErrorIs(t, err, usecase.ErrInvalidAskInput)
			assert.True(t, usecase.IsClientError(err))
			f.index.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAsk_StoreValidationIsNotClientError(t *testing.T) {
	f := newAskFixture(t)
	f.index.On("Query", mock.Anything, "q", 3).
		Return(nil, fmt.Errorf("%w: %w: query has 4 dimensions, chunk has 3",
			domain.ErrRetrievalUnavailable, domain.ErrValidation))

	_, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, usecase.IsClientError(err))
}

func TestAsk_RetrievalUnavailable(t *testing.T) {
	f := newAskFixture(t)
	f.index.On("Query", mock.Anything, "q", 3).
		Return(nil, fmt.Errorf("%w: vector index is empty", domain.ErrRetrievalUnavailable))

	_, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
	assert.False(t, usecase.IsClientError(err))
	assert.Empty(t, f.history.turns("s1"), "failed requests leave history untouched")
	assert.Equal(t, []string{"retrieval_failed"}, f.observer.outcomes)
}

func TestAsk_GenerationFailure_RetriedOnceThenSurfaced(t *testing.T) {
	f := newAskFixture(t)
	f.index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)
	f.llm.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("model overloaded"))

	_, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	f.llm.AssertNumberOfCalls(t, "Generate", 2)
	assert.Equal(t, 1, f.observer.retries)
	assert.Empty(t, f.history.turns("s1"))
}

func TestAsk_EmptyGenerationIsAFailure(t *testing.T) {
	f := newAskFixture(t)
	f.index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)
	f.llm.On("Generate", mock.Anything, mock.Anything).Return(&domain.LLMResponse{Text: "   ", Done: true}, nil)

	out, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.Error(t, err)
	assert.Nil(t, out, "no canned answer replaces a failed generation")
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	assert.Empty(t, f.history.turns("s1"))
}

func TestAsk_HistoryAppendFailureStillAnswers(t *testing.T) {
	f := newAskFixture(t)
	f.history.appendErr = errors.New("connection reset")
	f.index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)
	f.llm.On("Generate", mock.Anything, mock.Anything).Return(&domain.LLMResponse{Text: "answer", Done: true}, nil)

	out, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Answer)
	assert.Equal(t, []string{"append"}, f.observer.historyFailures)
}

func TestAsk_HistoryLoadFailureProceedsWithoutHistory(t *testing.T) {
	f := newAskFixture(t)
	f.history.getErr = errors.New("timeout")
	f.index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return len(req.History) == 0
	})).Return(&domain.LLMResponse{Text: "answer", Done: true}, nil)

	out, err := f.uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.True(t, out.HasRelevantInfo)
	assert.Equal(t, []string{"get"}, f.observer.historyFailures)

	f.history.getErr = nil
	assert.Len(t, f.history.turns("s1"), 2)
}

// echoLLM answers with the question it was asked.
type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, req domain.GenerationRequest) (*domain.LLMResponse, error) {
	return &domain.LLMResponse{Text: "answer to " + strings.TrimPrefix(req.NewTurn.Text, usecase.QuestionPrefix), Done: true}, nil
}

func (echoLLM) Version() string { return "echo" }

type blockingLLM struct{}

func (blockingLLM) Generate(ctx context.Context, _ domain.GenerationRequest) (*domain.LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingLLM) Version() string { return "blocking" }

func TestAsk_GeneratorTimeoutMapsToUpstreamTimeout(t *testing.T) {
	index := new(mockVectorIndex)
	index.On("Query", mock.Anything, "q", 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)

	cfg := testAskConfig()
	cfg.Retry = usecase.RetryPolicy{MaxAttempts: 1, Timeout: 20 * time.Millisecond}
	uc, err := usecase.NewAskUsecase(index, newFakeHistory(), usecase.NewGroundedPromptBuilder(), blockingLLM{}, cfg)
	require.NoError(t, err)

	_, err = uc.Execute(context.Background(), usecase.AskInput{SessionID: "s1", Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
}

// Two requests of one session used to race on read-modify-write of the full
// history array. Append is atomic per session, so every pair survives and
// each pair stays contiguous, whatever the interleaving.
func TestAsk_ConcurrentSameSessionKeepsEveryPair(t *testing.T) {
	index := new(mockVectorIndex)
	index.On("Query", mock.Anything, mock.Anything, 3).Return([]domain.RetrievalResult{result("doc-a", "context", 0.8)}, nil)
	history := newFakeHistory()
	uc, err := usecase.NewAskUsecase(index, history, usecase.NewGroundedPromptBuilder(), echoLLM{}, testAskConfig())
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := uc.Execute(context.Background(), usecase.AskInput{SessionID: "shared", Query: fmt.Sprintf("q%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns := history.turns("shared")
	require.Len(t, turns, 2*n)
	seen := make(map[string]bool)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, domain.RoleUser, turns[i].Role)
		assert.Equal(t, domain.RoleModel, turns[i+1].Role)
		assert.Equal(t, "answer to "+turns[i].Text, turns[i+1].Text)
		seen[turns[i].Text] = true
	}
	assert.Len(t, seen, n)
}

func TestNewAskUsecase_RejectsInvalidConfig(t *testing.T) {
	cfg := testAskConfig()
	cfg.TopK = 0
	_, err := usecase.NewAskUsecase(new(mockVectorIndex), newFakeHistory(), usecase.NewGroundedPromptBuilder(), new(mockLLMClient), cfg)
	assert.Error(t, err)
}
