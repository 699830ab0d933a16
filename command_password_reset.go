package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (e InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

type InitializePasswordResetResponse struct {
	ResetURL string
	Success  bool
}

// InitializePasswordResetHandler issues a single-use reset token and hands
// the reset URL to the caller for delivery. An unknown email reports
// success without issuing anything, so the endpoint cannot be used to probe
// which addresses exist.
type InitializePasswordResetHandler struct {
	repo   RepositoryManager
	vault  *TokenVault
	mailer Mailer
	domain string
}

func NewInitializePasswordResetHandler(repo RepositoryManager, vault *TokenVault, mailer Mailer, domain string) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:   repo,
		vault:  vault,
		mailer: normalizeMailer(mailer),
		domain: domain,
	}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := h.repo.Accounts().FindByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) || isNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
		}

		account.ActionToken = h.vault.IssueActionToken(TokenKindPasswordReset)
		if _, err := h.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password reset token")
		}

		resp.ResetURL = PasswordResetURL(h.domain, account.ID.String(), account.ActionToken.Token)

		go h.notify(account.Username, resp.ResetURL)
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *InitializePasswordResetHandler) notify(to, resetURL string) {
	_ = h.mailer.SendMail(context.Background(), to, "password_reset", map[string]any{
		"reset_url": resetURL,
	})
}

type FinalizePasswordResetMessage struct {
	AccountID  string `json:"account_id"`
	Token      string `json:"token"`
	Password   string `json:"password"`
	OnResponse func(resp *FinalizePasswordResetResponse)
}

func (e FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

type FinalizePasswordResetResponse struct {
	Account *Account
	Events  []Event
	Success bool
}

// FinalizePasswordResetHandler consumes the reset token and replaces the
// password. The token check and the write that clears it run in the same
// transaction so a token cannot be spent twice under concurrent requests.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	vault    *TokenVault
	sessions SessionRevoker
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, vault *TokenVault, sessions SessionRevoker) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		vault:    vault,
		sessions: normalizeSessionRevoker(sessions),
	}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	resp := &FinalizePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := h.repo.Accounts().GetByIdentifierTx(ctx, tx, event.AccountID)
		if err != nil {
			if repository.IsRecordNotFound(err) || isNotFound(err) {
				return ErrAccountNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
		}

		if err := h.vault.ValidateActionToken(account, event.Token); err != nil {
			return err
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			return err
		}

		account.PasswordHash = hash
		account.VerificationKey = ""
		account.ActionToken = ActionToken{}

		if _, err := h.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store new password")
		}

		resp.Account = account
		resp.Events = append(resp.Events, NewEvent(EventPasswordReset, account.ID, nil))
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	// live sessions predate the new password
	if err := h.sessions.RevokeAll(ctx, resp.Account.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke sessions after password reset")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
