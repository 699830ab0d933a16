package accounts

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxRenameAttempts bounds the collision-rename loop when consolidating
// quick files. Exceeding it fails the whole merge.
const MaxRenameAttempts = 200

// consolidateQuickFiles moves every quick file from source into target's
// container, renaming on name collision: "report.pdf" becomes
// "report (1).pdf", then "report (2).pdf", and so on.
func (m *MergeEngine) consolidateQuickFiles(ctx context.Context, tx bun.IDB, source, target *Account) error {
	if m.quickFiles == nil {
		return nil
	}

	files, err := m.quickFiles.ForAccountTx(ctx, tx, source.ID)
	if err != nil {
		return err
	}

	for _, file := range files {
		name, err := m.availableFilename(ctx, tx, target.ID, file.Name)
		if err != nil {
			return err
		}
		if err := m.quickFiles.MoveTx(ctx, tx, file.ID, target.ID, name); err != nil {
			return err
		}
	}

	return nil
}

func (m *MergeEngine) availableFilename(ctx context.Context, tx bun.IDB, accountID uuid.UUID, name string) (string, error) {
	candidate := name
	for attempt := 0; attempt <= MaxRenameAttempts; attempt++ {
		taken, err := m.quickFiles.ExistsTx(ctx, tx, accountID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = nextCandidateName(candidate)
	}

	return "", ErrMaxRetriesExceeded.WithMetadata(map[string]any{
		"filename": name,
	})
}

// nextCandidateName appends a parenthesized counter before the extension,
// or increments one that is already present.
func nextCandidateName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if n, base, ok := splitCounter(stem); ok {
		return fmt.Sprintf("%s (%d)%s", base, n+1, ext)
	}
	return fmt.Sprintf("%s (1)%s", stem, ext)
}

// splitCounter detects a trailing " (N)" suffix and returns N and the stem
// without it.
func splitCounter(stem string) (int, string, bool) {
	if !strings.HasSuffix(stem, ")") {
		return 0, "", false
	}
	open := strings.LastIndex(stem, " (")
	if open < 0 {
		return 0, "", false
	}

	digits := stem[open+2 : len(stem)-1]
	if digits == "" || !isNumericString(digits) {
		return 0, "", false
	}

	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	return n, stem[:open], true
}
