package email

import (
	"context"

	"go.uber.org/zap"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

// LogProvider writes mail to the log instead of delivering it. Used when SMTP
// is not configured so magic links stay reachable in local development.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	_ = ctx
	p.log.Info("email suppressed (no SMTP configured)",
		zap.Strings("to", to),
		zap.String("subject", subject),
		zap.String("body", htmlBody),
	)
	return nil
}
