package service

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chamomilehq/chamomile/internal/auth/domain"
	"github.com/chamomilehq/chamomile/internal/auth/repository"
	"github.com/chamomilehq/chamomile/internal/config"
	"github.com/chamomilehq/chamomile/pkg/db"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type capturedMail struct {
	to      []string
	subject string
	body    string
}

type captureProvider struct {
	sent []capturedMail
}

func (p *captureProvider) Send(_ context.Context, to []string, subject, htmlBody string) error {
	p.sent = append(p.sent, capturedMail{to: to, subject: subject, body: htmlBody})
	return nil
}

var linkPattern = regexp.MustCompile(`href="([^"]+)"`)

func (p *captureProvider) lastCode(t *testing.T) string {
	t.Helper()
	if len(p.sent) == 0 {
		t.Fatal("no mail sent")
	}
	match := linkPattern.FindStringSubmatch(p.sent[len(p.sent)-1].body)
	if match == nil {
		t.Fatalf("no link in mail body: %s", p.sent[len(p.sent)-1].body)
	}
	parsed, err := url.Parse(match[1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return parsed.Query().Get("code")
}

func newTestAuth(t *testing.T) (domain.Service, *captureProvider, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.LoginCode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	users, sessions, codes := repository.New(conn)
	mailer := &captureProvider{}
	svc := New(Params{
		Config: config.Config{
			AppName:      "chamomile",
			AppURL:       "http://localhost:8080",
			LoginLinkTTL: 15 * time.Minute,
			SessionTTL:   7 * 24 * time.Hour,
		},
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     users,
		Sessions: sessions,
		Codes:    codes,
		Email:    mailer,
	})
	return svc, mailer, conn
}

func TestRequestLinkCreatesAccountAndSendsLink(t *testing.T) {
	svc, mailer, conn := newTestAuth(t)
	ctx := context.Background()

	err := svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "User@Example.com"})
	assert.NoError(t, err)

	var user domain.User
	assert.NoError(t, conn.First(&user, "email = ?", "user@example.com").Error)

	if assert.Len(t, mailer.sent, 1) {
		assert.Equal(t, []string{"user@example.com"}, mailer.sent[0].to)
		assert.NotEmpty(t, mailer.lastCode(t))
	}

	// A second request reuses the account instead of creating a duplicate.
	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	var count int64
	assert.NoError(t, conn.Model(&domain.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRequestLinkRejectsInvalidEmail(t *testing.T) {
	svc, mailer, _ := newTestAuth(t)

	err := svc.RequestLink(context.Background(), domain.RequestLinkRequest{Email: "not-an-email"})
	assert.True(t, errors.Is(err, domain.ErrInvalidEmail))
	assert.Empty(t, mailer.sent)
}

func TestExchangeCodeMintsSession(t *testing.T) {
	svc, mailer, _ := newTestAuth(t)
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	code := mailer.lastCode(t)

	result, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: code, UserAgent: "test", IPAddress: "127.0.0.1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, result.RawToken)
	assert.Equal(t, "user@example.com", result.User.Email)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	session, err := svc.Authenticate(ctx, result.RawToken)
	assert.NoError(t, err)
	assert.Equal(t, result.User.ID, session.UserID)
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	svc, mailer, _ := newTestAuth(t)
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	code := mailer.lastCode(t)

	_, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: code})
	assert.NoError(t, err)

	_, err = svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: code})
	assert.True(t, errors.Is(err, domain.ErrCodeConsumed))
}

func TestExchangeCodeRejectsExpired(t *testing.T) {
	svc, mailer, conn := newTestAuth(t)
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	code := mailer.lastCode(t)

	assert.NoError(t, conn.Model(&domain.LoginCode{}).
		Where("consumed_at IS NULL").
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: code})
	assert.True(t, errors.Is(err, domain.ErrCodeExpired))
}

func TestExchangeCodeRejectsUnknown(t *testing.T) {
	svc, _, _ := newTestAuth(t)

	_, err := svc.ExchangeCode(context.Background(), domain.ExchangeRequest{Code: "bogus"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, mailer, _ := newTestAuth(t)
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	result, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: mailer.lastCode(t)})
	assert.NoError(t, err)

	assert.NoError(t, svc.Logout(ctx, result.RawToken))

	_, err = svc.Authenticate(ctx, result.RawToken)
	assert.True(t, errors.Is(err, domain.ErrSessionRevoked))
}

func TestAuthenticateRejectsExpiredSession(t *testing.T) {
	svc, mailer, conn := newTestAuth(t)
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	result, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: mailer.lastCode(t)})
	assert.NoError(t, err)

	assert.NoError(t, conn.Model(&domain.Session{}).
		Where("user_id = ?", result.User.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err = svc.Authenticate(ctx, result.RawToken)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestLoginEmailRendersFromTemplate(t *testing.T) {
	svc, mailer, _ := newTestAuth(t)

	assert.NoError(t, svc.RequestLink(context.Background(), domain.RequestLinkRequest{Email: "user@example.com"}))

	if assert.Len(t, mailer.sent, 1) {
		sent := mailer.sent[0]
		assert.Equal(t, "Sign in to chamomile", sent.subject)
		assert.Contains(t, sent.body, "sign in to chamomile")
		assert.Contains(t, sent.body, `<a href="http://localhost:8080/auth/callback?code=`)
		assert.Contains(t, sent.body, "expires in 15 minutes")
	}
}

type flakySessionRepo struct {
	domain.SessionRepository
	lastSeenErr error
}

func (r *flakySessionRepo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	if r.lastSeenErr != nil {
		return r.lastSeenErr
	}
	return r.SessionRepository.UpdateLastSeen(ctx, sessionID, lastSeen)
}

func TestAuthenticateSurvivesLastSeenWriteFailure(t *testing.T) {
	conn, err := db.NewTest()
	assert.NoError(t, err)
	assert.NoError(t, conn.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.LoginCode{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	users, sessions, codes := repository.New(conn)
	flaky := &flakySessionRepo{SessionRepository: sessions, lastSeenErr: errors.New("disk full")}
	mailer := &captureProvider{}
	svc := New(Params{
		Config: config.Config{
			AppName:      "chamomile",
			AppURL:       "http://localhost:8080",
			LoginLinkTTL: 15 * time.Minute,
			SessionTTL:   7 * 24 * time.Hour,
		},
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     users,
		Sessions: flaky,
		Codes:    codes,
		Email:    mailer,
	})
	ctx := context.Background()

	assert.NoError(t, svc.RequestLink(ctx, domain.RequestLinkRequest{Email: "user@example.com"}))
	result, err := svc.ExchangeCode(ctx, domain.ExchangeRequest{Code: mailer.lastCode(t)})
	assert.NoError(t, err)

	session, err := svc.Authenticate(ctx, result.RawToken)
	assert.NoError(t, err)
	assert.Equal(t, result.User.ID, session.UserID)
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	svc, _, _ := newTestAuth(t)

	_, err := svc.Authenticate(context.Background(), "  ")
	assert.True(t, errors.Is(err, domain.ErrInvalidSession))

	_, err = svc.Authenticate(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrInvalidSession))
}
