package summarize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chamomilehq/chamomile/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeChat struct {
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

// rewriteTransport points every outbound request at the test server.
type rewriteTransport struct {
	target *httptest.Server
	calls  int
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.calls++
	rewritten := rt.target.URL + req.URL.Path
	clone, err := http.NewRequestWithContext(req.Context(), req.Method, rewritten, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultTransport.RoundTrip(clone)
}

func newTestSummarizer(t *testing.T, readme http.HandlerFunc, chat *fakeChat) (*Service, *rewriteTransport) {
	t.Helper()
	server := httptest.NewServer(readme)
	t.Cleanup(server.Close)

	rt := &rewriteTransport{target: server}
	svc := NewWithClients(
		config.OpenAIConfig{Model: "gpt-3.5-turbo", Temperature: 0.5},
		zap.NewNop(),
		&http.Client{Transport: rt},
		chat,
	)
	return svc, rt
}

func TestRawContentURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/acme/widget", "https://raw.githubusercontent.com/acme/widget"},
		{"https://github.com/acme/widget/", "https://raw.githubusercontent.com/acme/widget"},
		{"https://github.com/acme/widget/tree/develop", "https://raw.githubusercontent.com/acme/widget/develop"},
	}
	for _, tt := range tests {
		got, err := RawContentURL(tt.in)
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := RawContentURL("https://gitlab.com/acme/widget")
	assert.True(t, errors.Is(err, ErrInvalidURL))
	_, err = RawContentURL("   ")
	assert.True(t, errors.Is(err, ErrInvalidURL))
}

func TestSummarizeUsesMainBranch(t *testing.T) {
	chat := &fakeChat{reply: "A concise summary."}
	svc, _ := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/main/README.md") {
			w.Write([]byte("# Widget\nDoes things."))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, chat)

	summary, err := svc.Summarize(context.Background(), "https://github.com/acme/widget")
	assert.NoError(t, err)
	assert.Equal(t, "A concise summary.", summary.Text)
	assert.False(t, summary.GeneratedAt.IsZero())

	if assert.Len(t, chat.requests, 1) {
		req := chat.requests[0]
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.InDelta(t, 0.5, req.Temperature, 0.001)
		if assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[0].Content, "technical documentation expert")
			assert.Contains(t, req.Messages[1].Content, "# Widget")
		}
	}
}

func TestSummarizeFallsBackToMaster(t *testing.T) {
	chat := &fakeChat{reply: "summary"}
	svc, rt := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/master/README.md") {
			w.Write([]byte("legacy readme"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, chat)

	summary, err := svc.Summarize(context.Background(), "https://github.com/acme/legacy")
	assert.NoError(t, err)
	assert.Equal(t, "summary", summary.Text)
	assert.Equal(t, 2, rt.calls)
}

func TestSummarizeReadmeMissingOnBothBranches(t *testing.T) {
	chat := &fakeChat{reply: "unused"}
	svc, rt := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, chat)

	_, err := svc.Summarize(context.Background(), "https://github.com/acme/empty")
	assert.True(t, errors.Is(err, ErrReadmeNotFound))
	assert.Equal(t, 2, rt.calls)
	assert.Empty(t, chat.requests, "no completion should be attempted without a README")
}

func TestSummarizeMapsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"http 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, ErrRateLimited},
		{"quota code", &openai.APIError{Code: "insufficient_quota"}, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{err: tt.err}
			svc, _ := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("readme"))
			}, chat)

			_, err := svc.Summarize(context.Background(), "https://github.com/acme/widget")
			assert.True(t, errors.Is(err, tt.want))
			// One attempt, no retries.
			assert.Len(t, chat.requests, 1)
		})
	}
}

func TestSummarizePassesThroughOtherCompletionErrors(t *testing.T) {
	chat := &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}}
	svc, _ := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("readme"))
	}, chat)

	_, err := svc.Summarize(context.Background(), "https://github.com/acme/widget")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
}
