package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ResendConfirmationMessage struct {
	AccountID  string `json:"account_id"`
	Email      string `json:"email"`
	OnResponse func(resp *ResendConfirmationResponse)
}

func (e ResendConfirmationMessage) Type() string { return "account.confirmation.resend" }

type ResendConfirmationResponse struct {
	ConfirmationURL string
	Success         bool
}

// ResendConfirmationHandler re-issues the confirmation link for a pending
// email, subject to the per-account send throttle.
type ResendConfirmationHandler struct {
	repo     RepositoryManager
	registry *EmailRegistry
	mailer   Mailer
	domain   string
}

func NewResendConfirmationHandler(repo RepositoryManager, registry *EmailRegistry, mailer Mailer, domain string) *ResendConfirmationHandler {
	return &ResendConfirmationHandler{
		repo:     repo,
		registry: registry,
		mailer:   normalizeMailer(mailer),
		domain:   domain,
	}
}

func (h *ResendConfirmationHandler) Execute(ctx context.Context, event ResendConfirmationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during confirmation resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendConfirmationHandler) execute(ctx context.Context, event ResendConfirmationMessage) error {
	resp := &ResendConfirmationResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := h.repo.Accounts().GetByIdentifierTx(ctx, tx, event.AccountID)
		if err != nil {
			if repository.IsRecordNotFound(err) || isNotFound(err) {
				return ErrAccountNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for confirmation resend")
		}

		if err := h.registry.ThrottleResend(account); err != nil {
			return err
		}

		token, err := h.registry.AddUnconfirmed(ctx, account, event.Email, nil)
		if err != nil {
			return err
		}

		if _, err := h.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store renewed confirmation token")
		}

		resp.ConfirmationURL = ConfirmationURL(h.domain, account.ID.String(), token, "")
		go h.notify(event.Email, resp.ConfirmationURL)
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resend confirmation")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *ResendConfirmationHandler) notify(to, confirmationURL string) {
	_ = h.mailer.SendMail(context.Background(), to, "confirm_registration", map[string]any{
		"confirmation_url": confirmationURL,
	})
}

type ConfirmEmailMessage struct {
	AccountID  string `json:"account_id"`
	Token      string `json:"token"`
	MergeOptIn bool   `json:"merge_opt_in,omitempty"`
	OnResponse func(resp *ConfirmEmailResponse)
}

func (e ConfirmEmailMessage) Type() string { return "account.confirmation.confirm" }

type ConfirmEmailResponse struct {
	Account *Account
	Result  *ConfirmResult
	Success bool
}

// ConfirmEmailHandler spends a confirmation token. Token validation and the
// write that consumes it share one transaction.
type ConfirmEmailHandler struct {
	repo     RepositoryManager
	registry *EmailRegistry
}

func NewConfirmEmailHandler(repo RepositoryManager, registry *EmailRegistry) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{repo: repo, registry: registry}
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) error {
	resp := &ConfirmEmailResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := h.repo.Accounts().GetByIdentifierTx(ctx, tx, event.AccountID)
		if err != nil {
			if repository.IsRecordNotFound(err) || isNotFound(err) {
				return ErrAccountNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for confirmation")
		}

		opts := []ConfirmOption{}
		if event.MergeOptIn {
			opts = append(opts, WithMergeOptIn())
		}

		result, err := h.registry.Confirm(ctx, tx, account, event.Token, opts...)
		if err != nil {
			return err
		}

		if _, err := h.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store confirmed account")
		}

		resp.Account = account
		resp.Result = result
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
