package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		resp := map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string, strict bool) *Client {
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Strict:  strict,
	}, nil)
}

var req = llm.QuestionRequest{SegmentText: "closures", Count: 1, OptionsPerQuestion: 2}

func TestWriteQuestionsValid(t *testing.T) {
	content := "```json\n" + `{"questions":[{"question":"Q","options":[{"text":"a","correct":true},{"text":"b","correct":false}]}]}` + "\n```"
	srv := chatServer(t, http.StatusOK, content)

	set, raw, err := newTestClient(srv.URL, false).WriteQuestions(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, set.Questions, 1)
	assert.Equal(t, "Q", set.Questions[0].Question)
	assert.True(t, set.Questions[0].Options[0].Correct)
	assert.NotEmpty(t, raw)
}

func TestWriteQuestionsRepairsDrift(t *testing.T) {
	content := `{"questions":[{"prompt":"Q","choices":["a","b"],"answer":0}]}`
	srv := chatServer(t, http.StatusOK, content)

	set, _, err := newTestClient(srv.URL, false).WriteQuestions(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, set.Questions, 1)
	assert.True(t, set.Questions[0].Options[0].Correct)
	assert.False(t, set.Questions[0].Options[1].Correct)
}

func TestWriteQuestionsStrictRejectsDrift(t *testing.T) {
	content := `{"questions":[{"prompt":"Q","choices":["a","b"],"answer":0}]}`
	srv := chatServer(t, http.StatusOK, content)

	_, _, err := newTestClient(srv.URL, true).WriteQuestions(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTransient))
}

func TestWriteQuestionsStatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := chatServer(t, tc.status, "")
			_, _, err := newTestClient(srv.URL, false).WriteQuestions(context.Background(), req)
			require.Error(t, err)

			var se *common.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.status, se.Code)
			assert.Equal(t, tc.transient, errors.Is(err, common.ErrTransient))
			assert.Equal(t, !tc.transient, errors.Is(err, common.ErrPermanent))
		})
	}
}

func TestWriteQuestionsNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv.URL, false).WriteQuestions(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTransient))
}
