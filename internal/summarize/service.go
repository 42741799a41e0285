// Package summarize turns a GitHub repository URL into a short README
// summary produced by a chat completion model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chamomilehq/chamomile/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are a technical documentation expert. Summarize the README content clearly and concisely. Focus on: 1. Project's main purpose 2. Key features 3. Technologies used"

// ChatClient is the slice of the OpenAI client the service needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Summary struct {
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Service struct {
	cfg  config.OpenAIConfig
	log  *zap.Logger
	http *http.Client
	chat ChatClient
}

func New(cfg config.Config, log *zap.Logger) *Service {
	return NewWithClients(
		cfg.OpenAI,
		log,
		&http.Client{Timeout: 30 * time.Second},
		openai.NewClient(cfg.OpenAI.APIKey),
	)
}

func NewWithClients(cfg config.OpenAIConfig, log *zap.Logger, httpClient *http.Client, chat ChatClient) *Service {
	return &Service{
		cfg:  cfg,
		log:  log.Named("summarize.service"),
		http: httpClient,
		chat: chat,
	}
}

// Summarize fetches the repository README and asks the model for a summary.
// The completion is attempted once; quota and rate-limit refusals surface as
// ErrRateLimited so handlers can answer with 429.
func (s *Service) Summarize(ctx context.Context, githubURL string) (*Summary, error) {
	rawBase, err := RawContentURL(githubURL)
	if err != nil {
		return nil, err
	}

	readme, err := s.fetchReadme(ctx, rawBase)
	if err != nil {
		return nil, err
	}

	resp, err := s.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: float32(s.cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Please summarize this README:\n\n%s", readme)},
		},
	})
	if err != nil {
		if isRateLimited(err) {
			return nil, ErrRateLimited
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	return &Summary{
		Text:        resp.Choices[0].Message.Content,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
		return true
	}
	return false
}
