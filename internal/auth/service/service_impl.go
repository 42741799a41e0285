package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chamomilehq/chamomile/internal/auth/domain"
	"github.com/chamomilehq/chamomile/internal/config"
	"github.com/chamomilehq/chamomile/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	sessionTokenBytes = 32
	loginCodeBytes    = 32
)

//go:embed login_email.tmpl
var loginEmailSrc string

var loginEmailTemplate = template.Must(template.New("login_email").Parse(loginEmailSrc))

type loginEmailData struct {
	AppName   string
	Link      string
	ExpiresIn int
}

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Sessions domain.SessionRepository
	Codes    domain.LoginCodeRepository
	Email    email.Provider
}

type Service struct {
	cfg      config.Config
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	sessions domain.SessionRepository
	codes    domain.LoginCodeRepository
	email    email.Provider
}

func New(p Params) domain.Service {
	return &Service{
		cfg:      p.Config,
		log:      p.Log.Named("auth.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		sessions: p.Sessions,
		codes:    p.Codes,
		email:    p.Email,
	}
}

// RequestLink creates the account on first sign-in, mints a single-use code
// and emails the login link. The response carries no hint of whether the
// address was already known.
func (s *Service) RequestLink(ctx context.Context, req domain.RequestLinkRequest) error {
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.ErrInvalidEmail
	}

	user, err := s.repo.FindByEmail(ctx, address)
	if errors.Is(err, domain.ErrUserNotFound) {
		user = &domain.User{
			ID:       s.genID.Generate(),
			Email:    address,
			Metadata: datatypes.JSONMap{},
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	rawCode, err := newRandomToken(loginCodeBytes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	code := &domain.LoginCode{
		ID:        s.genID.Generate(),
		UserID:    user.ID,
		CodeHash:  hashToken(rawCode),
		ExpiresAt: now.Add(s.cfg.LoginLinkTTL),
		CreatedAt: now,
	}
	if err := s.codes.CreateLoginCode(ctx, code); err != nil {
		return err
	}

	subject := fmt.Sprintf("Sign in to %s", s.cfg.AppName)
	var body bytes.Buffer
	if err := loginEmailTemplate.Execute(&body, loginEmailData{
		AppName:   s.cfg.AppName,
		Link:      s.loginLink(rawCode),
		ExpiresIn: int(s.cfg.LoginLinkTTL.Minutes()),
	}); err != nil {
		return err
	}
	if err := s.email.Send(ctx, []string{address}, subject, body.String()); err != nil {
		s.log.Error("send login link", zap.Error(err))
		return err
	}

	s.log.Info("login link issued", zap.String("user_id", user.ID.String()))
	return nil
}

func (s *Service) ExchangeCode(ctx context.Context, req domain.ExchangeRequest) (*domain.LoginResult, error) {
	raw := strings.TrimSpace(req.Code)
	if raw == "" {
		return nil, domain.ErrInvalidCode
	}

	code, err := s.codes.GetLoginCodeByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if code.ConsumedAt != nil {
		return nil, domain.ErrCodeConsumed
	}
	if now.After(code.ExpiresAt) {
		return nil, domain.ErrCodeExpired
	}
	if err := s.codes.ConsumeLoginCode(ctx, code.ID, now); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(ctx, code.UserID)
	if err != nil {
		return nil, err
	}

	rawToken, err := newRandomToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		User:      user,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	return s.sessions.RevokeSession(ctx, session.ID, time.Now().UTC())
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := time.Now().UTC()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	// Last-seen is bookkeeping on the session record; the outcome of the
	// check never depends on it.
	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		s.log.Warn("update last seen", zap.Error(err))
	}

	return session, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID snowflake.ID) (*domain.User, error) {
	return s.repo.FindByID(ctx, userID)
}

func (s *Service) loginLink(rawCode string) string {
	base := strings.TrimRight(s.cfg.AppURL, "/")
	return base + "/auth/callback?code=" + url.QueryEscape(rawCode)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newRandomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
