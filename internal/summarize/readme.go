package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrInvalidURL     = errors.New("invalid_github_url")
	ErrReadmeNotFound = errors.New("readme_not_found")
	ErrRateLimited    = errors.New("rate_limited")
)

const maxReadmeBytes = 1 << 20

// RawContentURL rewrites a github.com repository URL to its raw content root.
// "https://github.com/org/repo" and "https://github.com/org/repo/tree/x"
// both map onto "https://raw.githubusercontent.com/org/repo...".
func RawContentURL(githubURL string) (string, error) {
	trimmed := strings.TrimSpace(githubURL)
	if trimmed == "" || !strings.Contains(trimmed, "github.com") {
		return "", ErrInvalidURL
	}
	raw := strings.Replace(trimmed, "github.com", "raw.githubusercontent.com", 1)
	raw = strings.Replace(raw, "/tree/", "/", 1)
	return strings.TrimRight(raw, "/"), nil
}

// fetchReadme downloads the repository README, trying the main branch first
// and falling back to master.
func (s *Service) fetchReadme(ctx context.Context, rawBase string) (string, error) {
	for _, branch := range []string{"main", "master"} {
		body, err := s.fetch(ctx, fmt.Sprintf("%s/%s/README.md", rawBase, branch))
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, ErrReadmeNotFound) {
			return "", err
		}
	}
	return "", ErrReadmeNotFound
}

func (s *Service) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrReadmeNotFound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadmeBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
