package accounts

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TokenKind selects the TTL policy for an issued verification token.
type TokenKind = string

const (
	TokenKindConfirm       TokenKind = "confirm"
	TokenKindPasswordReset TokenKind = "password_reset"
	TokenKindClaim         TokenKind = "claim"
)

// Default TTLs per token kind. Password reset is fixed at 48h; the others
// follow the platform defaults unless overridden through Config.
const (
	DefaultConfirmationTTL  = 24 * time.Hour
	PasswordResetTTL        = 48 * time.Hour
	DefaultClaimTTL         = 30 * 24 * time.Hour
	tokenEntropyBytes       = 20
)

// IssuedToken is a freshly minted verification token.
type IssuedToken struct {
	Token   string
	Expires time.Time
}

// TokenVault issues and validates the time-limited, single-purpose tokens
// kept in an account's pending-verification map. Expired entries are never
// swept proactively; they are pruned when touched.
type TokenVault struct {
	clock           Clock
	confirmationTTL time.Duration
	claimTTL        time.Duration
}

// VaultOption customizes vault construction.
type VaultOption func(*TokenVault)

// WithVaultClock injects a custom clock (useful for tests).
func WithVaultClock(clock Clock) VaultOption {
	return func(v *TokenVault) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithVaultTTLs overrides the confirmation and claim TTLs. Zero values keep
// the defaults. The password-reset TTL is not configurable.
func WithVaultTTLs(confirmation, claim time.Duration) VaultOption {
	return func(v *TokenVault) {
		if confirmation > 0 {
			v.confirmationTTL = confirmation
		}
		if claim > 0 {
			v.claimTTL = claim
		}
	}
}

// NewTokenVault returns a vault with platform-default TTLs.
func NewTokenVault(opts ...VaultOption) *TokenVault {
	v := &TokenVault{
		clock:           time.Now,
		confirmationTTL: DefaultConfirmationTTL,
		claimTTL:        DefaultClaimTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *TokenVault) ttl(kind TokenKind) time.Duration {
	switch kind {
	case TokenKindPasswordReset:
		return PasswordResetTTL
	case TokenKindClaim:
		return v.claimTTL
	}
	return v.confirmationTTL
}

// Issue mints a high-entropy token with a kind-dependent expiration.
func (v *TokenVault) Issue(kind TokenKind) IssuedToken {
	return IssuedToken{
		Token:   randomToken(),
		Expires: v.clock.Now().Add(v.ttl(kind)),
	}
}

// Validate resolves token to its pending email. It is read-only and
// idempotent: it fails INVALID_TOKEN when the token is absent and
// EXPIRED_TOKEN when now is past the entry's expiration. Entries with no
// expiration fail safe as expired.
func (v *TokenVault) Validate(account *Account, token string) (string, error) {
	entry, ok := account.EmailVerifications[token]
	if !ok || entry == nil {
		return "", ErrInvalidToken.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	}

	if v.entryExpired(entry) {
		return "", ErrExpiredToken.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"email":      entry.Email,
		})
	}

	return entry.Email, nil
}

// Consume validates token, removes it, and prunes every entry found expired
// at that moment. A second consume of the same token fails INVALID_TOKEN.
func (v *TokenVault) Consume(account *Account, token string) (string, error) {
	email, err := v.Validate(account, token)
	if err != nil {
		return "", err
	}

	delete(account.EmailVerifications, token)
	v.CleanExpired(account)

	return email, nil
}

// ForceRenew issues a fresh token for email, superseding any existing entry
// for that address. Used on explicit resends and on force-regenerated
// confirmation URLs whose token already expired.
func (v *TokenVault) ForceRenew(account *Account, email string, kind TokenKind) IssuedToken {
	account.EnsureMaps()
	normalized := NormalizeEmail(email)

	var carried map[string]string
	for token, entry := range account.EmailVerifications {
		if entry == nil || NormalizeEmail(entry.Email) != normalized {
			continue
		}
		carried = entry.ExternalIdentity
		delete(account.EmailVerifications, token)
	}

	issued := v.Issue(kind)
	expires := issued.Expires
	account.EmailVerifications[issued.Token] = &EmailVerification{
		Email:            normalized,
		Expiration:       &expires,
		ExternalIdentity: carried,
	}

	return issued
}

// CleanExpired drops every entry past its expiration. Lazy garbage
// collection: only called when the map is already being touched.
func (v *TokenVault) CleanExpired(account *Account) {
	for token, entry := range account.EmailVerifications {
		if entry == nil || v.entryExpired(entry) {
			delete(account.EmailVerifications, token)
		}
	}
}

// TokenFor returns the live token for email, if any.
func (v *TokenVault) TokenFor(account *Account, email string) (string, bool) {
	normalized := NormalizeEmail(email)
	for token, entry := range account.EmailVerifications {
		if entry == nil || NormalizeEmail(entry.Email) != normalized {
			continue
		}
		if v.entryExpired(entry) {
			continue
		}
		return token, true
	}
	return "", false
}

func (v *TokenVault) entryExpired(entry *EmailVerification) bool {
	if entry.Expiration == nil {
		return true
	}
	return v.clock.Now().After(*entry.Expiration)
}

// IssueActionToken mints the v2 action token used by password-reset and
// claim flows.
func (v *TokenVault) IssueActionToken(kind TokenKind) ActionToken {
	issued := v.Issue(kind)
	expires := issued.Expires
	return ActionToken{Token: issued.Token, Expires: &expires}
}

// ValidateActionToken checks the account's v2 token against the supplied
// value. Same failure semantics as Validate.
func (v *TokenVault) ValidateActionToken(account *Account, token string) error {
	if account.ActionToken.Empty() || account.ActionToken.Token != token {
		return ErrInvalidToken.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	}
	if account.ActionToken.ExpiredAt(v.clock.Now()) {
		return ErrExpiredToken.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	}
	return nil
}

func randomToken() string {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
