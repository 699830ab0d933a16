package accounts_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickFileNames(t *testing.T, store *fakeQuickFiles, account *accounts.Account) []string {
	t.Helper()

	files, err := store.ForAccountTx(context.Background(), nil, account.ID)
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func TestMergeQuickFilesRenameOnCollision(t *testing.T) {
	t.Parallel()

	f := newMergeFixture(t)
	source, target := f.pair()

	f.quickFiles.add(source.ID, "report.pdf")
	f.quickFiles.add(source.ID, "unique.csv")
	f.quickFiles.add(target.ID, "report.pdf")
	f.quickFiles.add(target.ID, "report (1).pdf")

	_, err := f.engine.Merge(context.Background(), nil, source, target)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"report.pdf", "report (1).pdf", "report (2).pdf", "unique.csv"},
		quickFileNames(t, f.quickFiles, target),
	)
	assert.Empty(t, quickFileNames(t, f.quickFiles, source))
}

func TestMergeQuickFilesRenameCap(t *testing.T) {
	t.Parallel()

	f := newMergeFixture(t)
	source, target := f.pair()

	f.quickFiles.add(source.ID, "report.pdf")
	f.quickFiles.add(target.ID, "report.pdf")
	for i := 1; i <= accounts.MaxRenameAttempts; i++ {
		f.quickFiles.add(target.ID, fmt.Sprintf("report (%d).pdf", i))
	}

	_, err := f.engine.Merge(context.Background(), nil, source, target)
	require.Error(t, err)
	assert.True(t, accounts.IsMaxRetriesExceeded(err))
}

func TestMergeQuickFilesKeepExtension(t *testing.T) {
	t.Parallel()

	f := newMergeFixture(t)
	source, target := f.pair()

	f.quickFiles.add(source.ID, "archive.tar.gz")
	f.quickFiles.add(target.ID, "archive.tar.gz")
	f.quickFiles.add(source.ID, "README")
	f.quickFiles.add(target.ID, "README")

	_, err := f.engine.Merge(context.Background(), nil, source, target)
	require.NoError(t, err)

	names := quickFileNames(t, f.quickFiles, target)
	assert.Contains(t, names, "archive.tar (1).gz")
	assert.Contains(t, names, "README (1)")
}

func TestMergeReassignsFileLocks(t *testing.T) {
	t.Parallel()

	f := newMergeFixture(t)
	source, target := f.pair()

	locked := f.quickFiles.add(source.ID, "draft.docx")
	f.quickFiles.locks[locked.ID] = source.ID

	_, err := f.engine.Merge(context.Background(), nil, source, target)
	require.NoError(t, err)

	assert.Equal(t, target.ID, f.quickFiles.locks[locked.ID])
}
