package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResourceKind distinguishes contributor permission scopes. Node and
// preprint contributorship are reconciled independently during merge.
type ResourceKind = string

const (
	ResourceKindNode     ResourceKind = "node"
	ResourceKindPreprint ResourceKind = "preprint"
)

// Permission is an ordered contributor permission level.
type Permission int

const (
	PermissionRead Permission = iota + 1
	PermissionWrite
	PermissionAdmin
)

func maxPermission(a, b Permission) Permission {
	if a > b {
		return a
	}
	return b
}

// Contributor is one account's row on a resource.
type Contributor struct {
	ResourceID string
	Kind       ResourceKind
	AccountID  uuid.UUID
	Permission Permission
	Visible    bool
}

// ContributorStore is the narrow contract over resource contributorship the
// core consumes; resources themselves live outside this module.
type ContributorStore interface {
	ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind ResourceKind) ([]*Contributor, error)
	FindTx(ctx context.Context, tx bun.IDB, resourceID string, kind ResourceKind, accountID uuid.UUID) (*Contributor, bool, error)
	UpdateTx(ctx context.Context, tx bun.IDB, contributor *Contributor) error
	// RepointTx moves the row to another account preserving permission and
	// visibility.
	RepointTx(ctx context.Context, tx bun.IDB, contributor *Contributor, to uuid.UUID) error
	DeleteTx(ctx context.Context, tx bun.IDB, resourceID string, kind ResourceKind, accountID uuid.UUID) error
}

// QuickFile is an entry in an account's personal, always-public file area.
type QuickFile struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
}

// QuickFileStore manages personal quick-files containers.
type QuickFileStore interface {
	ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*QuickFile, error)
	ExistsTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, name string) (bool, error)
	// MoveTx re-homes the file under the target container root with the
	// given name.
	MoveTx(ctx context.Context, tx bun.IDB, fileID, to uuid.UUID, name string) error
}

// FileLockStore reassigns checked-out file locks between accounts.
type FileLockStore interface {
	ReassignLocksTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error)
}

// OwnershipStore transfers resource creatorship and collection ownership.
// Implementations must exclude each account's personal bookmark collection
// and its quick-files container; those are never transferred here.
type OwnershipStore interface {
	TransferCreatorTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) error
}

// GroupRole is an account's role in a group.
type GroupRole = string

const (
	GroupRoleManager GroupRole = "manager"
	GroupRoleMember  GroupRole = "member"
)

// GroupMembership is one account's membership row.
type GroupMembership struct {
	GroupID   string
	AccountID uuid.UUID
	Role      GroupRole
}

// GroupStore manages group membership.
type GroupStore interface {
	ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*GroupMembership, error)
	RoleOfTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) (GroupRole, bool, error)
	SetRoleTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID, role GroupRole) error
	RemoveTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) error
}
