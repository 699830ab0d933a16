package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the derived lifecycle state of an account.
type AccountStatus = string

const (
	// AccountStatusUnregistered is a placeholder created by invitation.
	AccountStatusUnregistered AccountStatus = "unregistered"
	// AccountStatusUnconfirmed is a self-registered account awaiting email confirmation.
	AccountStatusUnconfirmed AccountStatus = "unconfirmed"
	// AccountStatusActive is a fully registered, confirmed, loggable account.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusDisabled is a deactivated account that can be reactivated.
	AccountStatusDisabled AccountStatus = "disabled"
	// AccountStatusMerged is terminal: the account was consolidated into another.
	AccountStatusMerged AccountStatus = "merged"
	// AccountStatusDeleted is terminal: the account was scrubbed for GDPR erasure.
	AccountStatusDeleted AccountStatus = "deleted"
)

// IdentityStatus tracks the lifecycle of an external identity claim.
type IdentityStatus = string

const (
	IdentityStatusCreate   IdentityStatus = "CREATE"
	IdentityStatusLink     IdentityStatus = "LINK"
	IdentityStatusVerified IdentityStatus = "VERIFIED"
)

func identityStatusRank(s IdentityStatus) int {
	switch s {
	case IdentityStatusVerified:
		return 3
	case IdentityStatusLink:
		return 2
	case IdentityStatusCreate:
		return 1
	}
	return 0
}

// EmailVerification is a pending verification entry keyed by token in the
// account's token map. Tokens lacking an expiration are treated as expired.
type EmailVerification struct {
	Email            string            `json:"email"`
	Confirmed        bool              `json:"confirmed"`
	Expiration       *time.Time        `json:"expiration,omitempty"`
	ExternalIdentity map[string]string `json:"external_identity,omitempty"`
}

// ActionToken is the v2 token used by password-reset and claim flows.
type ActionToken struct {
	Token   string     `json:"token,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Empty reports whether no token is set.
func (t ActionToken) Empty() bool { return t.Token == "" }

// ExpiredAt reports whether the token is unusable at the given instant.
// A token with no expiration fails safe.
func (t ActionToken) ExpiredAt(now time.Time) bool {
	if t.Expires == nil {
		return true
	}
	return now.After(*t.Expires)
}

// UnclaimedRecord describes an invitation of this unregistered account as a
// contributor on a resource, keyed by resource id.
type UnclaimedRecord struct {
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	ReferrerID string     `json:"referrer_id"`
	Token      string     `json:"token"`
	Expires    *time.Time `json:"expires,omitempty"`
}

// Account is the identity root.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acct"`

	ID       uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username string    `bun:"username,notnull,unique" json:"username,omitempty"`

	Fullname    string `bun:"fullname" json:"fullname,omitempty"`
	GivenName   string `bun:"given_name" json:"given_name,omitempty"`
	MiddleNames string `bun:"middle_names" json:"middle_names,omitempty"`
	FamilyName  string `bun:"family_name" json:"family_name,omitempty"`
	Suffix      string `bun:"suffix" json:"suffix,omitempty"`

	PasswordHash    string      `bun:"password_hash" json:"-"`
	VerificationKey string      `bun:"verification_key" json:"-"`
	ActionToken     ActionToken `bun:"action_token,type:jsonb" json:"-"`
	TwoFactorSecret string      `bun:"two_factor_secret" json:"-"`

	EmailVerifications map[string]*EmailVerification     `bun:"email_verifications,type:jsonb" json:"-"`
	ExternalIdentities map[string]map[string]string      `bun:"external_identities,type:jsonb" json:"external_identities,omitempty"`
	UnclaimedRecords   map[string]*UnclaimedRecord       `bun:"unclaimed_records,type:jsonb" json:"-"`
	SecurityMessages   map[string]time.Time              `bun:"security_messages,type:jsonb" json:"-"`
	Notifications      map[string]bool                   `bun:"notifications_configured,type:jsonb" json:"-"`
	MailingLists       map[string]bool                   `bun:"mailing_lists,type:jsonb" json:"-"`
	CommentsViewed     map[string]time.Time              `bun:"comments_viewed,type:jsonb" json:"-"`

	SystemTags   []string         `bun:"system_tags,type:jsonb" json:"system_tags,omitempty"`
	Jobs         []map[string]any `bun:"jobs,type:jsonb" json:"jobs,omitempty"`
	Schools      []map[string]any `bun:"schools,type:jsonb" json:"schools,omitempty"`
	Social       map[string]any   `bun:"social,type:jsonb" json:"social,omitempty"`
	Affiliations []string         `bun:"affiliated_institutions,type:jsonb" json:"affiliated_institutions,omitempty"`

	// External OAuth-provider accounts attached to this identity, by opaque id.
	ExternalAccounts []string `bun:"external_accounts,type:jsonb" json:"external_accounts,omitempty"`

	IsRegistered bool `bun:"is_registered" json:"is_registered,omitempty"`
	IsInvited    bool `bun:"is_invited" json:"is_invited,omitempty"`
	IsSuperuser  bool `bun:"is_superuser" json:"is_superuser,omitempty"`
	IsStaff      bool `bun:"is_staff" json:"is_staff,omitempty"`

	DeactivationRequested bool `bun:"deactivation_requested" json:"deactivation_requested,omitempty"`

	DateConfirmed   *time.Time `bun:"date_confirmed,nullzero" json:"date_confirmed,omitempty"`
	DateDisabled    *time.Time `bun:"date_disabled,nullzero" json:"date_disabled,omitempty"`
	Deleted         *time.Time `bun:"deleted,nullzero" json:"deleted,omitempty"`
	EmailLastSentAt *time.Time `bun:"email_last_sent_at,nullzero" json:"-"`

	MergedInto *uuid.UUID `bun:"merged_into,nullzero,type:uuid" json:"merged_into,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureMaps initializes nil map fields so callers can write without guards.
func (a *Account) EnsureMaps() {
	if a.EmailVerifications == nil {
		a.EmailVerifications = map[string]*EmailVerification{}
	}
	if a.ExternalIdentities == nil {
		a.ExternalIdentities = map[string]map[string]string{}
	}
	if a.UnclaimedRecords == nil {
		a.UnclaimedRecords = map[string]*UnclaimedRecord{}
	}
	if a.SecurityMessages == nil {
		a.SecurityMessages = map[string]time.Time{}
	}
	if a.Notifications == nil {
		a.Notifications = map[string]bool{}
	}
	if a.MailingLists == nil {
		a.MailingLists = map[string]bool{}
	}
	if a.CommentsViewed == nil {
		a.CommentsViewed = map[string]time.Time{}
	}
}

// IsConfirmed reports whether the primary email was confirmed.
func (a *Account) IsConfirmed() bool { return a.DateConfirmed != nil }

// IsMerged reports whether the account was consolidated into another.
func (a *Account) IsMerged() bool { return a.MergedInto != nil }

// IsDisabled reports whether the account is deactivated.
func (a *Account) IsDisabled() bool { return a.DateDisabled != nil }

// IsDeleted reports whether the account was scrubbed by GDPR erasure.
func (a *Account) IsDeleted() bool { return a.Deleted != nil }

// HasUsableCredential reports whether the account can present a login proof.
func (a *Account) HasUsableCredential() bool {
	return a.PasswordHash != "" || a.VerificationKey != ""
}

// HasTwoFactor reports whether a one-time-password check is configured.
func (a *Account) HasTwoFactor() bool { return a.TwoFactorSecret != "" }

// IsActive is the derived loggable state.
func (a *Account) IsActive() bool {
	return a.IsRegistered &&
		a.IsConfirmed() &&
		a.HasUsableCredential() &&
		!a.IsMerged() &&
		!a.IsDisabled()
}

// Status derives the lifecycle state from the underlying row.
func (a *Account) Status() AccountStatus {
	switch {
	case a.IsMerged():
		return AccountStatusMerged
	case a.IsDeleted():
		return AccountStatusDeleted
	case a.IsDisabled():
		return AccountStatusDisabled
	case a.IsActive():
		return AccountStatusActive
	case a.IsRegistered:
		return AccountStatusUnconfirmed
	}
	return AccountStatusUnregistered
}

// DisplayName prefers the full name, falling back to the username.
func (a *Account) DisplayName() string {
	if a.Fullname != "" {
		return a.Fullname
	}
	return a.Username
}

// ConfirmedEmail is an address confirmed by exactly one account. Addresses
// are globally unique among confirmed emails.
type ConfirmedEmail struct {
	bun.BaseModel `bun:"table:confirmed_emails,alias:eml"`

	ID        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Address   string     `bun:"address,notnull,unique" json:"address,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lowercases and trims an address before any comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
