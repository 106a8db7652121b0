// Package mockstorage provides a testify-based mock of the storage
// interfaces consumed by the service, auth and router packages.
package mockstorage

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

// StorageMock is a testify mock of the user and link stores.
//
// Transactions are not mocked: BeginTransaction returns a nil *sql.Tx and
// Commit/Rollback succeed, matching the file and memory stores.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers, when set, replaces the default (0, nil) result of GetNumberOfUsers.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)

	// OnGetNumberOfLinks, when set, replaces the default (0, nil) result of GetNumberOfLinks.
	OnGetNumberOfLinks func(ctx context.Context) (int64, error)
}

func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StorageMock) BeginTransaction() (*sql.Tx, error) {
	return nil, nil
}

func (m *StorageMock) CommitTransaction(tx *sql.Tx) error {
	return nil
}

func (m *StorageMock) RollbackTransaction(tx *sql.Tx) error {
	return nil
}

func (m *StorageMock) CreateUser(ctx context.Context, usr *user.User, tx *sql.Tx) (string, error) {
	args := m.Called(ctx, usr, tx)
	return args.String(0), args.Error(1)
}

func (m *StorageMock) IsEmailRegistered(ctx context.Context, email string, tx *sql.Tx) (bool, error) {
	args := m.Called(ctx, email, tx)
	return args.Bool(0), args.Error(1)
}

func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	args := m.Called(ctx, username)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) InsertLink(ctx context.Context, link *models.Link, tx *sql.Tx) error {
	args := m.Called(ctx, link, tx)
	return args.Error(0)
}

func (m *StorageMock) FindLinkByShortCode(ctx context.Context, shortCode string) (*models.Link, error) {
	args := m.Called(ctx, shortCode)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *StorageMock) GetLinksByOwner(ctx context.Context, ownerID string) ([]*models.Link, error) {
	args := m.Called(ctx, ownerID)
	links, _ := args.Get(0).([]*models.Link)
	return links, args.Error(1)
}

func (m *StorageMock) IncrementAccessCount(ctx context.Context, shortCode string) (int64, error) {
	args := m.Called(ctx, shortCode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	return 0, nil
}

func (m *StorageMock) GetNumberOfLinks(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfLinks != nil {
		return m.OnGetNumberOfLinks(ctx)
	}
	return 0, nil
}
