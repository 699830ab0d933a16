package accounts

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// InstitutionAssertion is the identity an institutional IdP asserts for a
// user signing in through their home institution.
type InstitutionAssertion struct {
	InstitutionID string `json:"institution_id"`
	Username      string `json:"username"`
	FullName      string `json:"fullname"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
}

type institutionClaims struct {
	jwt.RegisteredClaims
	InstitutionID string `json:"institution_id"`
	Username      string `json:"username"`
	FullName      string `json:"fullname"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
}

// InstitutionTokenValidator validates IdP-signed assertion tokens and
// extracts the asserted identity.
type InstitutionTokenValidator interface {
	Validate(tokenString string) (*InstitutionAssertion, error)
}

// InstitutionTokenValidatorFunc adapts a function into an
// InstitutionTokenValidator.
type InstitutionTokenValidatorFunc func(tokenString string) (*InstitutionAssertion, error)

// Validate satisfies the InstitutionTokenValidator interface.
func (f InstitutionTokenValidatorFunc) Validate(tokenString string) (*InstitutionAssertion, error) {
	if f == nil {
		return nil, ErrAuthenticationFailed
	}
	return f(tokenString)
}

// JWKSInstitutionValidator verifies assertion tokens against the IdP's
// published JWK Set, refreshing keys in the background.
type JWKSInstitutionValidator struct {
	jwks   *keyfunc.JWKS
	logger Logger
}

// NewJWKSInstitutionValidator fetches the JWK Set from the configured URL
// and keeps it refreshed. Construction fails if the initial fetch does.
func NewJWKSInstitutionValidator(jwksURL string, logger Logger) (*JWKSInstitutionValidator, error) {
	if logger == nil {
		logger = defLogger{}
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("institution JWK set refresh failed: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load institution JWK set")
	}

	return &JWKSInstitutionValidator{jwks: jwks, logger: logger}, nil
}

// Validate satisfies the InstitutionTokenValidator interface. Assertion
// tokens are short-lived, so registered claims are fully validated here.
func (v *JWKSInstitutionValidator) Validate(tokenString string) (*InstitutionAssertion, error) {
	claims := &institutionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc)
	if err != nil || !token.Valid {
		v.logger.Warn("institution assertion rejected: %v", err)
		return nil, ErrAuthenticationFailed
	}

	if claims.InstitutionID == "" || claims.Username == "" {
		return nil, ErrInvalidRequest.WithMetadata(map[string]any{
			"reason": "assertion missing institution_id or username",
		})
	}

	return &InstitutionAssertion{
		InstitutionID: claims.InstitutionID,
		Username:      claims.Username,
		FullName:      claims.FullName,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
	}, nil
}

// Shutdown stops the background JWK refresh goroutine.
func (v *JWKSInstitutionValidator) Shutdown() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
