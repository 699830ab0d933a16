package accounts

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock abstracts time.Now so expiration logic is testable.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Config holds the options the gateway and vault need to operate.
type Config interface {
	GetSigningKey() string
	GetEncryptionKey() string
	GetEncryptionDisabled() bool
	GetDomain() string
	GetConfirmationTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetClaimTTL() time.Duration
	GetEmailResendInterval() time.Duration
	GetInstitutionJWKSURL() string
	GetMandatorySubscriptions() []string
}

// Mailer is the outbound email contract. Delivery happens outside any
// transactional boundary; implementations should queue, not block.
type Mailer interface {
	SendMail(ctx context.Context, to, template string, tplCtx map[string]any) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to, template string, tplCtx map[string]any) error

func (f MailerFunc) SendMail(ctx context.Context, to, template string, tplCtx map[string]any) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, template, tplCtx)
}

type noopMailer struct{}

func (noopMailer) SendMail(context.Context, string, string, map[string]any) error {
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// SearchIndexer re-indexes an account after identity-affecting mutations.
// Failures are best-effort: callers log and move on.
type SearchIndexer interface {
	NotifySearchIndex(ctx context.Context, account *Account) error
}

// SearchIndexerFunc adapts a function to the SearchIndexer interface.
type SearchIndexerFunc func(ctx context.Context, account *Account) error

func (f SearchIndexerFunc) NotifySearchIndex(ctx context.Context, account *Account) error {
	if f == nil {
		return nil
	}
	return f(ctx, account)
}

type noopIndexer struct{}

func (noopIndexer) NotifySearchIndex(context.Context, *Account) error { return nil }

func normalizeIndexer(s SearchIndexer) SearchIndexer {
	if s == nil {
		return noopIndexer{}
	}
	return s
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
