package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/weread-shelf-sync/internal/crypto"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := crypto.NewEncryptionManagerWithKey(key, nil)
	require.NoError(t, err)
	return NewRepository(db, enc, nil)
}

func testBundle() weread.CredentialBundle {
	return weread.CredentialBundle{
		Gid:    "gid-1",
		Vid:    "1234567",
		Skey:   "skey-1",
		Rt:     "rt-1",
		Name:   "张三",
		Gender: "1",
	}
}

func TestRepository_UpsertUser(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	user, err := repo.UpsertUser(ctx, testBundle())
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "1234567", user.WrVid)
	assert.NotEqual(t, "skey-1", user.SkeyEncrypted)
	require.NotNil(t, user.LastLoginAt)

	updated := testBundle()
	updated.Skey = "skey-2"
	updated.Name = "李四"
	again, err := repo.UpsertUser(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID, "same vid must map to the same user")
	assert.Equal(t, "李四", again.WrName)

	got, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "李四", got.WrName)

	bundle, err := repo.Bundle(got)
	require.NoError(t, err)
	assert.Equal(t, "skey-2", bundle.Skey)
	assert.Equal(t, "rt-1", bundle.Rt)
}

func TestRepository_GetUserNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetUserByVid(context.Background(), "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Credentials(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	missing, err := repo.GetCredentials(ctx, "1234567")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.PutCredentials(ctx, "1234567", testBundle()))

	got, err := repo.GetCredentials(ctx, "1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testBundle(), *got)
}

func TestRepository_BookCache(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.LoadBook(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)

	book := weread.CanonicalBook{BookID: "b1", Title: "三体", Author: "刘慈欣", Source: "book_info_api"}
	require.NoError(t, repo.SaveBook(ctx, book))

	book.Title = "三体（典藏版）"
	require.NoError(t, repo.SaveBook(ctx, book))

	got, err = repo.LoadBook(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, book, *got)

	assert.Error(t, repo.SaveBook(ctx, weread.CanonicalBook{Title: "no id"}))
}

func TestRepository_Snapshot(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.LoadSnapshot(ctx, "1234567")
	require.NoError(t, err)
	assert.Nil(t, got)

	fetched := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	snap := &weread.BookshelfSnapshot{
		UserVid:   "1234567",
		Books:     []weread.CanonicalBook{{BookID: "A", Title: "a"}, {BookID: "B", Title: "b"}},
		Source:    "web_shelf_new_html_parsed",
		Counts:    weread.SnapshotCounts{HTMLBooks: 2, FullInfo: 2, Total: 2},
		FetchedAt: fetched,
	}
	require.NoError(t, repo.SaveSnapshot(ctx, "1234567", snap))

	snap.Books = snap.Books[:1]
	snap.Counts.Total = 1
	require.NoError(t, repo.SaveSnapshot(ctx, "1234567", snap))

	got, err = repo.LoadSnapshot(ctx, "1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Books, 1)
	assert.Equal(t, 1, got.Counts.Total)
	assert.True(t, fetched.Equal(got.FetchedAt))
}
