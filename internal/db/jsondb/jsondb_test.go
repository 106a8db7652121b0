package jsondb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

func newTestUser(t *testing.T, db *JSONDB, name string) *user.User {
	t.Helper()

	usr := &user.User{
		Username:     name,
		Email:        name + "@x.com",
		PasswordHash: "hash",
	}
	_, err := db.CreateUser(context.Background(), usr, nil)
	require.NoError(t, err)

	return usr
}

func Test(t *testing.T) {
	t.Run("The base jsondb package test", func(t *testing.T) {
		fileName := filepath.Join(t.TempDir(), "db_test.json")

		theStorage, err := New(fileName)
		require.NoError(t, err)
		require.NotNil(t, theStorage)

		alice := newTestUser(t, theStorage, "alice")
		assert.NotEmpty(t, alice.ID)
		assert.False(t, alice.CreatedAt.IsZero())

		link := &models.Link{ShortCode: "abcd1234", OriginalURL: "https://example.com", OwnerID: alice.ID}
		err = theStorage.InsertLink(context.Background(), link, nil)
		require.NoError(t, err, "The `theStorage.InsertLink()` should not return error")
		assert.NotEmpty(t, link.ID)

		count, err := theStorage.IncrementAccessCount(context.Background(), "abcd1234")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		require.NoError(t, theStorage.Close())

		reopened, err := New(fileName)
		require.NoError(t, err)

		found, err := reopened.FindLinkByShortCode(context.Background(), "abcd1234")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", found.OriginalURL)
		assert.Equal(t, int64(1), found.AccessCount)
		assert.Equal(t, alice.ID, found.OwnerID)

		usr, err := reopened.GetUserByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", usr.Email)
	})
}

func TestCreateUserUniqueness(t *testing.T) {
	db := NewInMemory()
	newTestUser(t, db, "alice")

	_, err := db.CreateUser(context.Background(), &user.User{Username: "bob", Email: "ALICE@x.com"}, nil)
	assert.ErrorIs(t, err, models.ErrEmailTaken)

	_, err = db.CreateUser(context.Background(), &user.User{Username: "alice", Email: "other@x.com"}, nil)
	assert.ErrorIs(t, err, models.ErrUsernameTaken)

	registered, err := db.IsEmailRegistered(context.Background(), "alice@x.com", nil)
	require.NoError(t, err)
	assert.True(t, registered)

	registered, err = db.IsEmailRegistered(context.Background(), "nobody@x.com", nil)
	require.NoError(t, err)
	assert.False(t, registered)

	_, err = db.GetUserByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestInsertLinkConditional(t *testing.T) {
	db := NewInMemory()
	alice := newTestUser(t, db, "alice")

	first := &models.Link{ShortCode: "samecode", OriginalURL: "https://first.example", OwnerID: alice.ID}
	require.NoError(t, db.InsertLink(context.Background(), first, nil))

	second := &models.Link{ShortCode: "samecode", OriginalURL: "https://second.example", OwnerID: alice.ID}
	assert.ErrorIs(t, db.InsertLink(context.Background(), second, nil), models.ErrShortCodeTaken)

	stored, err := db.FindLinkByShortCode(context.Background(), "samecode")
	require.NoError(t, err)
	assert.Equal(t, "https://first.example", stored.OriginalURL)

	orphan := &models.Link{ShortCode: "orphan00", OriginalURL: "https://x.example", OwnerID: "missing"}
	assert.ErrorIs(t, db.InsertLink(context.Background(), orphan, nil), models.ErrUserNotFound)
}

func TestGetLinksByOwner(t *testing.T) {
	db := NewInMemory()
	alice := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")

	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertLink(context.Background(), &models.Link{
			ShortCode:   fmt.Sprintf("alice%03d", i),
			OriginalURL: fmt.Sprintf("https://example.com/%d", i),
			OwnerID:     alice.ID,
		}, nil))
	}
	require.NoError(t, db.InsertLink(context.Background(), &models.Link{
		ShortCode:   "bob00000",
		OriginalURL: "https://bob.example",
		OwnerID:     bob.ID,
	}, nil))

	links, err := db.GetLinksByOwner(context.Background(), alice.ID)
	require.NoError(t, err)
	require.Len(t, links, 3)
	for i, link := range links {
		assert.Equal(t, alice.ID, link.OwnerID)
		assert.Equal(t, fmt.Sprintf("alice%03d", i), link.ShortCode)
	}

	links, err = db.GetLinksByOwner(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, links)

	linksCount, err := db.GetNumberOfLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), linksCount)

	usersCount, err := db.GetNumberOfUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), usersCount)
}

func TestIncrementAccessCountConcurrent(t *testing.T) {
	const redirects = 200

	db := NewInMemory()
	alice := newTestUser(t, db, "alice")
	require.NoError(t, db.InsertLink(context.Background(), &models.Link{
		ShortCode:   "hotlink1",
		OriginalURL: "https://example.com",
		OwnerID:     alice.ID,
	}, nil))

	var wg sync.WaitGroup
	for i := 0; i < redirects; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.IncrementAccessCount(context.Background(), "hotlink1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	link, err := db.FindLinkByShortCode(context.Background(), "hotlink1")
	require.NoError(t, err)
	assert.Equal(t, int64(redirects), link.AccessCount)

	_, err = db.IncrementAccessCount(context.Background(), "missing1")
	assert.ErrorIs(t, err, models.ErrLinkNotFound)
}
