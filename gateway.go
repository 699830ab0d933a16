package accounts

import (
	"context"
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Gateway request types.
const (
	RequestTypeLogin       = "LOGIN"
	RequestTypeRegister    = "REGISTER"
	RequestTypeInstitution = "INSTITUTION_AUTHENTICATE"
)

// LoginPayload is the post-decryption body of a LOGIN request.
type LoginPayload struct {
	Email               string `json:"email"`
	Password            string `json:"password,omitempty"`
	VerificationKey     string `json:"verificationKey,omitempty"`
	OneTimePassword     string `json:"oneTimePassword,omitempty"`
	RemoteAuthenticated bool   `json:"remoteAuthenticated,omitempty"`
}

// Validate will validate the payload
func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(1, 254)),
	)
}

// RegisterPayload is the post-decryption body of a REGISTER request.
type RegisterPayload struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Campaign string `json:"campaign,omitempty"`
}

// Validate will validate the payload
func (p RegisterPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Fullname, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Email, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 256)),
	)
}

// InstitutionUser carries the identity fields asserted by the institution.
type InstitutionUser struct {
	Username    string `json:"username"`
	Fullname    string `json:"fullname,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
	MiddleNames string `json:"middleNames,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
}

// InstitutionPayload is the post-decryption body of an
// INSTITUTION_AUTHENTICATE request.
type InstitutionPayload struct {
	IdP  string          `json:"idp"`
	ID   string          `json:"id"`
	User InstitutionUser `json:"user"`
}

// Validate will validate the payload
func (p InstitutionPayload) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(&p.User,
		validation.Field(&p.User.Username, validation.Required, validation.Length(1, 254)),
	)
}

type gatewayRequest struct {
	Type     string          `json:"type"`
	User     json.RawMessage `json:"user,omitempty"`
	Provider json.RawMessage `json:"provider,omitempty"`
}

// GatewayResult is the outcome of a successfully handled gateway request.
type GatewayResult struct {
	Account *Account
	Created bool
	Events  []Event
}

// AuthGateway terminates the encrypted transport, resolves credential
// proofs, and routes registration and institution provisioning.
type AuthGateway struct {
	repo         RepositoryManager
	machine      *AccountStateMachine
	codec        *EnvelopeCodec
	totp         TOTPValidator
	mailer       Mailer
	activitySink ActivitySink
	clock        Clock
	logger       Logger
}

// GatewayOption customizes gateway construction.
type GatewayOption func(*AuthGateway)

// WithGatewayTOTP sets the one-time-password validator.
func WithGatewayTOTP(v TOTPValidator) GatewayOption {
	return func(g *AuthGateway) {
		if v != nil {
			g.totp = v
		}
	}
}

// WithGatewayMailer sets the mailer used for institution welcome notices.
func WithGatewayMailer(m Mailer) GatewayOption {
	return func(g *AuthGateway) { g.mailer = normalizeMailer(m) }
}

// WithGatewayActivitySink sets the audit sink.
func WithGatewayActivitySink(sink ActivitySink) GatewayOption {
	return func(g *AuthGateway) { g.activitySink = normalizeActivitySink(sink) }
}

// WithGatewayClock injects a custom clock.
func WithGatewayClock(clock Clock) GatewayOption {
	return func(g *AuthGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithGatewayLogger overrides the logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *AuthGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewAuthGateway builds a gateway over the given state machine and
// envelope codec.
func NewAuthGateway(repo RepositoryManager, machine *AccountStateMachine, codec *EnvelopeCodec, opts ...GatewayOption) *AuthGateway {
	g := &AuthGateway{
		repo:         repo,
		machine:      machine,
		codec:        codec,
		totp:         HMACTOTPValidator{},
		mailer:       noopMailer{},
		activitySink: noopActivitySink{},
		clock:        time.Now,
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Handle opens the envelope and dispatches on the request type.
func (g *AuthGateway) Handle(ctx context.Context, raw string) (*GatewayResult, error) {
	req := &gatewayRequest{}
	if err := g.codec.Open(raw, req); err != nil {
		return nil, err
	}

	switch req.Type {
	case RequestTypeLogin:
		payload := LoginPayload{}
		if err := json.Unmarshal(req.User, &payload); err != nil {
			return nil, ErrInvalidRequest
		}
		return g.Login(ctx, payload)
	case RequestTypeRegister:
		payload := RegisterPayload{}
		if err := json.Unmarshal(req.User, &payload); err != nil {
			return nil, ErrInvalidRequest
		}
		return g.Register(ctx, payload)
	case RequestTypeInstitution:
		payload := InstitutionPayload{}
		if err := json.Unmarshal(req.Provider, &payload); err != nil {
			return nil, ErrInvalidRequest
		}
		return g.InstitutionAuthenticate(ctx, payload)
	default:
		return nil, ErrInvalidRequest.WithMetadata(map[string]any{
			"type": req.Type,
		})
	}
}

// Login resolves the account, tries credential proofs in fixed order, then
// applies the two-factor check and the status gate. The status gate always
// runs last; a disabled or merged account fails login even with a valid
// proof.
func (g *AuthGateway) Login(ctx context.Context, payload LoginPayload) (*GatewayResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, errors.Wrap(err, ErrMissingCredentials.Category, ErrMissingCredentials.Message).
			WithTextCode(ErrMissingCredentials.TextCode)
	}

	account, err := g.repo.Accounts().FindByEmail(ctx, payload.Email)
	if err != nil {
		if isNotFound(err) {
			g.emitLoginFailure(ctx, payload.Email, ErrAccountNotFound)
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if err := g.verifyProof(account, payload); err != nil {
		g.emitLoginFailure(ctx, payload.Email, err)
		return nil, err
	}

	if account.HasTwoFactor() {
		if payload.OneTimePassword == "" {
			return nil, ErrTwoFactorRequired
		}
		if !g.totp.VerifyCode(account.TwoFactorSecret, payload.OneTimePassword, g.clock.Now()) {
			g.emitLoginFailure(ctx, payload.Email, ErrInvalidOneTimePassword)
			return nil, ErrInvalidOneTimePassword
		}
	}

	if err := StatusGate(account); err != nil {
		g.emitLoginFailure(ctx, payload.Email, err)
		return nil, err
	}

	g.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"identifier": payload.Email},
	})

	return &GatewayResult{Account: account}, nil
}

// verifyProof accepts exactly one credential proof; the first one supplied
// decides the outcome.
func (g *AuthGateway) verifyProof(account *Account, payload LoginPayload) error {
	switch {
	case payload.RemoteAuthenticated:
		return nil
	case payload.VerificationKey != "":
		if account.VerificationKey == "" || account.VerificationKey != payload.VerificationKey {
			return ErrInvalidVerificationKey
		}
		return nil
	case payload.Password != "":
		if err := ComparePasswordAndHash(payload.Password, account.PasswordHash); err != nil {
			return ErrInvalidPassword
		}
		return nil
	default:
		return ErrMissingCredentials
	}
}

// Register creates an unconfirmed account and kicks off the confirmation
// flow.
func (g *AuthGateway) Register(ctx context.Context, payload RegisterPayload) (*GatewayResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid registration payload").
			WithTextCode(TextCodeInvalidRequest)
	}

	var account *Account
	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, _, err := g.machine.CreateUnconfirmedTx(ctx, tx, payload.Email, payload.Password, payload.Fullname, payload.Campaign)
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistration,
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"email": NormalizeEmail(payload.Email)},
	})

	return &GatewayResult{
		Account: account,
		Created: true,
		Events:  []Event{NewEvent(EventAccountCreated, account.ID, nil)},
	}, nil
}

// InstitutionAuthenticate gets or creates an account for an
// institution-asserted identity. The institution is the trust root: new
// accounts are registered immediately with no confirmation step, and no
// password or two-factor check applies.
func (g *AuthGateway) InstitutionAuthenticate(ctx context.Context, payload InstitutionPayload) (*GatewayResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid institution payload").
			WithTextCode(TextCodeInvalidRequest)
	}

	var result *GatewayResult
	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, created, err := g.resolveInstitutionAccount(ctx, tx, payload)
		if err != nil {
			return err
		}

		if g.ensureAffiliation(account, payload.ID) || created {
			if _, err := g.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
				return err
			}
		}

		result = &GatewayResult{Account: account, Created: created}
		if created {
			result.Events = append(result.Events,
				NewEvent(EventAccountCreated, account.ID, map[string]any{"institution_id": payload.ID}),
				NewEvent(EventAccountRegistered, account.ID, nil),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		g.sendWelcome(ctx, result.Account, payload.ID)
	}

	g.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventInstitution,
		AccountID: result.Account.ID.String(),
		Metadata: map[string]any{
			"institution_id": payload.ID,
			"created":        result.Created,
		},
	})

	return result, nil
}

func (g *AuthGateway) resolveInstitutionAccount(ctx context.Context, tx bun.IDB, payload InstitutionPayload) (*Account, bool, error) {
	username := NormalizeEmail(payload.User.Username)

	account, err := g.repo.Accounts().FindByEmailTx(ctx, tx, username)
	if err == nil {
		return account, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	now := g.clock.Now()
	account = &Account{
		ID:            uuid.New(),
		Username:      username,
		Fullname:      institutionFullname(payload.User),
		GivenName:     payload.User.GivenName,
		MiddleNames:   payload.User.MiddleNames,
		FamilyName:    payload.User.FamilyName,
		Suffix:        payload.User.Suffix,
		IsRegistered:  true,
		DateConfirmed: &now,
	}
	account.EnsureMaps()

	if _, err := g.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
		return nil, false, err
	}

	if isEmailAddress(username) {
		if _, err := g.repo.Emails().GetOrCreateTx(ctx, tx, &ConfirmedEmail{
			AccountID: account.ID,
			Address:   username,
		}); err != nil {
			return nil, false, err
		}
	}

	return account, true, nil
}

// ensureAffiliation reports whether the account changed.
func (g *AuthGateway) ensureAffiliation(account *Account, institutionID string) bool {
	for _, id := range account.Affiliations {
		if id == institutionID {
			return false
		}
	}
	account.Affiliations = append(account.Affiliations, institutionID)
	return true
}

func institutionFullname(user InstitutionUser) string {
	if user.Fullname != "" {
		return user.Fullname
	}
	if user.GivenName != "" && user.FamilyName != "" {
		return user.GivenName + " " + user.FamilyName
	}
	return user.Username
}

func (g *AuthGateway) sendWelcome(ctx context.Context, account *Account, institutionID string) {
	if err := g.mailer.SendMail(ctx, account.Username, "welcome_institution", map[string]any{
		"fullname":       account.Fullname,
		"institution_id": institutionID,
	}); err != nil {
		g.logger.Warn("welcome notice send failed: %v", err)
	}
}

func (g *AuthGateway) emitLoginFailure(ctx context.Context, identifier string, cause error) {
	g.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Metadata: map[string]any{
			"identifier": identifier,
			"error":      cause.Error(),
		},
	})
}

func (g *AuthGateway) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = g.clock.Now()
	}
	if err := g.activitySink.Record(ctx, event); err != nil {
		g.logger.Warn("activity sink record error: %v", err)
	}
}
