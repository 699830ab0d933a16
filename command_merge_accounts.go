package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type MergeAccountsMessage struct {
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	OnResponse func(resp *MergeAccountsResponse)
}

func (e MergeAccountsMessage) Type() string { return "account.merge" }

type MergeAccountsResponse struct {
	Source  *Account
	Target  *Account
	Events  []Event
	Success bool
}

// MergeAccountsHandler runs a full merge inside one transaction. The two
// accounts are loaded in lock order, keyed by the lexicographically smaller
// id, so two concurrent merges over the same pair cannot deadlock.
type MergeAccountsHandler struct {
	repo   RepositoryManager
	engine *MergeEngine
}

func NewMergeAccountsHandler(repo RepositoryManager, engine *MergeEngine) *MergeAccountsHandler {
	return &MergeAccountsHandler{repo: repo, engine: engine}
}

func (h *MergeAccountsHandler) Execute(ctx context.Context, event MergeAccountsMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account merge",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *MergeAccountsHandler) execute(ctx context.Context, event MergeAccountsMessage) error {
	resp := &MergeAccountsResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		source, target, err := h.loadPair(ctx, tx, event.SourceID, event.TargetID)
		if err != nil {
			return err
		}

		events, err := h.engine.Merge(ctx, tx, source, target)
		if err != nil {
			return err
		}

		resp.Source = source
		resp.Target = target
		resp.Events = events
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account merge transaction failed")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// loadPair fetches both accounts with the smaller id first so row locks are
// always acquired in the same order regardless of merge direction.
func (h *MergeAccountsHandler) loadPair(ctx context.Context, tx bun.IDB, sourceID, targetID string) (*Account, *Account, error) {
	first, second := sourceID, targetID
	if strings.Compare(second, first) < 0 {
		first, second = second, first
	}

	byID := map[string]*Account{}
	for _, id := range []string{first, second} {
		account, err := h.repo.Accounts().GetByIdentifierTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) || isNotFound(err) {
				return nil, nil, ErrAccountNotFound.WithMetadata(map[string]any{"id": id})
			}
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for merge")
		}
		byID[id] = account
	}

	return byID[sourceID], byID[targetID], nil
}
