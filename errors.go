package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced to callers. They are stable API: transports map them
// onto their own response vocabularies.
const (
	TextCodeMissingCredentials = "MISSING_CREDENTIALS"
	TextCodeInvalidRequest     = "INVALID_REQUEST"

	TextCodeAccountNotFound = "ACCOUNT_NOT_FOUND"
	TextCodeEmailNotFound   = "EMAIL_NOT_FOUND"

	TextCodeInvalidVerificationKey = "INVALID_VERIFICATION_KEY"
	TextCodeInvalidPassword        = "INVALID_PASSWORD"
	TextCodeInvalidOneTimePassword = "INVALID_ONE_TIME_PASSWORD"
	TextCodeTwoFactorRequired      = "TWO_FACTOR_AUTHENTICATION_REQUIRED"

	TextCodeUserNotClaimed   = "USER_NOT_CLAIMED"
	TextCodeUserNotConfirmed = "USER_NOT_CONFIRMED"
	TextCodeUserMerged       = "USER_MERGED"
	TextCodeUserDisabled     = "USER_DISABLED"
	TextCodeUserNotActive    = "USER_NOT_ACTIVE"

	TextCodeExpiredToken = "EXPIRED_TOKEN"
	TextCodeInvalidToken = "INVALID_TOKEN"

	TextCodeAlreadyConfirmed          = "ALREADY_CONFIRMED"
	TextCodeAlreadyRegistered         = "ALREADY_REGISTERED"
	TextCodeMergeConflict             = "MERGE_CONFLICT"
	TextCodeMergeConfirmationRequired = "MERGE_CONFIRMATION_REQUIRED"
	TextCodeIdentityVerifiedElsewhere = "IDENTITY_ALREADY_VERIFIED_ELSEWHERE"
	TextCodeInvalidIdentityTransition = "INVALID_IDENTITY_TRANSITION"

	TextCodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	TextCodeUserStateError     = "USER_STATE_ERROR"
	TextCodeEmailThrottled     = "EMAIL_THROTTLED"

	TextCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
)

// ErrMissingCredentials is returned when a login request carries no usable proof.
var ErrMissingCredentials = goerrors.New("missing credentials", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRequest is returned for malformed gateway payloads.
var ErrInvalidRequest = goerrors.New("invalid request payload", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotFound is returned when no account matches the identifier.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrEmailNotFound is returned when an email address is not on the account.
var ErrEmailNotFound = goerrors.New("email not found on account", goerrors.CategoryNotFound).
	WithTextCode(TextCodeEmailNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidVerificationKey is returned when the supplied v1 key does not match.
var ErrInvalidVerificationKey = goerrors.New("invalid verification key", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidVerificationKey).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidPassword is returned when the password proof fails.
var ErrInvalidPassword = goerrors.New("invalid password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidOneTimePassword is returned when the supplied TOTP code is wrong.
var ErrInvalidOneTimePassword = goerrors.New("invalid one-time password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidOneTimePassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrTwoFactorRequired is returned when the account has two-factor configured
// and the request carries no one-time password.
var ErrTwoFactorRequired = goerrors.New("two-factor authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeTwoFactorRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotClaimed gates logins on invited placeholder accounts.
var ErrUserNotClaimed = goerrors.New("account has not been claimed", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserNotClaimed).
	WithCode(goerrors.CodeForbidden)

// ErrUserNotConfirmed gates logins on self-registered, unconfirmed accounts.
var ErrUserNotConfirmed = goerrors.New("account email has not been confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserNotConfirmed).
	WithCode(goerrors.CodeForbidden)

// ErrUserMerged gates logins on accounts consolidated into another.
var ErrUserMerged = goerrors.New("account was merged into another account", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserMerged).
	WithCode(goerrors.CodeForbidden)

// ErrUserDisabled gates logins on deactivated accounts.
var ErrUserDisabled = goerrors.New("account is disabled", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrUserNotActive is the residual status gate for inactive accounts.
var ErrUserNotActive = goerrors.New("account is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserNotActive).
	WithCode(goerrors.CodeForbidden)

// ErrExpiredToken is returned when a verification token exists but is past
// its expiration. Recoverable by forced renewal.
var ErrExpiredToken = goerrors.New("verification token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeExpiredToken).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidToken is returned when a verification token is unknown or
// already consumed.
var ErrInvalidToken = goerrors.New("verification token invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyConfirmed is returned when adding a pending email the account
// already confirmed.
var ErrAlreadyConfirmed = goerrors.New("email already confirmed", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyConfirmed).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyRegistered is returned when a registration collides with an
// existing confirmed address.
var ErrAlreadyRegistered = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrMergeConflict is returned when an attached integration refuses
// consolidation. Fatal without manual intervention.
var ErrMergeConflict = goerrors.New("accounts cannot be merged", goerrors.CategoryConflict).
	WithTextCode(TextCodeMergeConflict).
	WithCode(goerrors.CodeConflict)

// ErrIdentityVerifiedElsewhere is returned when another account already holds
// a VERIFIED claim for the same (provider, id) tuple.
var ErrIdentityVerifiedElsewhere = goerrors.New("external identity already verified on another account", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityVerifiedElsewhere).
	WithCode(goerrors.CodeConflict)

// ErrInvalidIdentityTransition is returned on external-identity status downgrades.
var ErrInvalidIdentityTransition = goerrors.New("external identity status cannot be downgraded", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidIdentityTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrMaxRetriesExceeded is returned when the quick-files rename loop exhausts
// its collision budget. The merge aborts.
var ErrMaxRetriesExceeded = goerrors.New("maximum rename attempts exceeded", goerrors.CategoryOperation).
	WithTextCode(TextCodeMaxRetriesExceeded).
	WithCode(goerrors.CodeConflict)

// ErrUserStateError is returned when an account is not eligible for the
// requested lifecycle operation (e.g. GDPR deletion gates).
var ErrUserStateError = goerrors.New("account state does not allow this operation", goerrors.CategoryConflict).
	WithTextCode(TextCodeUserStateError).
	WithCode(goerrors.CodeConflict)

// ErrEmailThrottled is returned when a confirmation resend is requested
// inside the minimum resend window.
var ErrEmailThrottled = goerrors.New("confirmation email recently sent", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeEmailThrottled).
	WithCode(goerrors.CodeConflict)

// ErrAuthenticationFailed is returned when the gateway envelope cannot be
// decrypted or its signature does not verify.
var ErrAuthenticationFailed = goerrors.New("authentication request rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthenticationFailed).
	WithCode(goerrors.CodeUnauthorized)

// MergeConfirmationRequired signals that confirming an email would collide
// with another account's confirmed address. The caller may retry with an
// explicit opt-in, handing the other account to the merge engine as source.
func MergeConfirmationRequired(account, other *Account) *goerrors.Error {
	return goerrors.New("email confirmed on another account, merge confirmation required", goerrors.CategoryConflict).
		WithTextCode(TextCodeMergeConfirmationRequired).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"other_id":   other.ID.String(),
		})
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

// IsInvalidToken reports whether err is the invalid-token failure.
func IsInvalidToken(err error) bool { return hasTextCode(err, TextCodeInvalidToken) }

// IsExpiredToken reports whether err is the expired-token failure.
func IsExpiredToken(err error) bool { return hasTextCode(err, TextCodeExpiredToken) }

// IsMergeConflict reports whether err is the fatal merge-conflict failure.
func IsMergeConflict(err error) bool { return hasTextCode(err, TextCodeMergeConflict) }

// IsMergeConfirmationRequired reports whether err requires explicit user
// confirmation before merging.
func IsMergeConfirmationRequired(err error) bool {
	return hasTextCode(err, TextCodeMergeConfirmationRequired)
}

// IsMaxRetriesExceeded reports whether err is the rename-bound failure.
func IsMaxRetriesExceeded(err error) bool { return hasTextCode(err, TextCodeMaxRetriesExceeded) }

// IsUserStateError reports whether err is a lifecycle eligibility failure.
func IsUserStateError(err error) bool { return hasTextCode(err, TextCodeUserStateError) }

// IsIdentityVerifiedElsewhere reports whether err is the external-identity
// uniqueness failure.
func IsIdentityVerifiedElsewhere(err error) bool {
	return hasTextCode(err, TextCodeIdentityVerifiedElsewhere)
}
