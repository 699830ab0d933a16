package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterAccountMessage struct {
	Fullname   string `json:"fullname"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Campaign   string `json:"campaign,omitempty"`
	OnResponse func(resp *RegisterAccountResponse)
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

type RegisterAccountResponse struct {
	Account         *Account
	ConfirmationURL string
	Success         bool
}

type RegisterAccountHandler struct {
	repo    RepositoryManager
	machine *AccountStateMachine
	domain  string
}

func NewRegisterAccountHandler(repo RepositoryManager, machine *AccountStateMachine, domain string) *RegisterAccountHandler {
	return &RegisterAccountHandler{repo: repo, machine: machine, domain: domain}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	resp := &RegisterAccountResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, token, err := h.machine.CreateUnconfirmedTx(ctx, tx, event.Email, event.Password, event.Fullname, event.Campaign)
		if err != nil {
			return err
		}

		resp.Account = account
		resp.ConfirmationURL = ConfirmationURL(h.domain, account.ID.String(), token, "")
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// InviteContributorMessage provisions an unregistered placeholder account
// for someone named as a contributor before they have signed up.
type InviteContributorMessage struct {
	Fullname   string `json:"fullname"`
	Email      string `json:"email"`
	ReferrerID string `json:"referrer_id"`
	ResourceID string `json:"resource_id"`
	OnResponse func(resp *InviteContributorResponse)
}

func (e InviteContributorMessage) Type() string { return "account.invite_contributor" }

type InviteContributorResponse struct {
	Account  *Account
	ClaimURL string
	Success  bool
}

type InviteContributorHandler struct {
	repo    RepositoryManager
	machine *AccountStateMachine
	domain  string
}

func NewInviteContributorHandler(repo RepositoryManager, machine *AccountStateMachine, domain string) *InviteContributorHandler {
	return &InviteContributorHandler{repo: repo, machine: machine, domain: domain}
}

func (h *InviteContributorHandler) Execute(ctx context.Context, event InviteContributorMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during contributor invitation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InviteContributorHandler) execute(ctx context.Context, event InviteContributorMessage) error {
	resp := &InviteContributorResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, token, err := h.machine.CreateUnregisteredTx(ctx, tx, event.Email, event.Fullname, event.ReferrerID, event.ResourceID)
		if err != nil {
			return err
		}

		resp.Account = account
		resp.ClaimURL = ClaimURL(h.domain, account.ID.String(), event.ResourceID, token)
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "contributor invitation transaction failed")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
