// Package jsondb is a file-backed store of users and links. The whole data set
// lives in memory behind a mutex; it is loaded on New and written back on Close.
package jsondb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

// JSONDB keeps users and links in memory and persists them to fileName.
// An empty fileName makes Close a no-op (see memorystorage).
type JSONDB struct {
	fileName string
	mu       sync.RWMutex
	Cache    CacheStruct
}

// CacheStruct is the on-disk layout.
type CacheStruct struct {
	// Users is keyed by user ID.
	Users map[string]*user.User

	// Links is keyed by short code.
	Links map[string]*models.Link

	// LinkOrder keeps short codes in insertion order.
	LinkOrder []string
}

// NewCache returns an empty, ready to use CacheStruct.
func NewCache() CacheStruct {
	return CacheStruct{
		Users:     map[string]*user.User{},
		Links:     map[string]*models.Link{},
		LinkOrder: []string{},
	}
}

func initDBFile(fileName string) error {
	return writeToJSONFile(fileName, NewCache())
}

func writeToJSONFile(fileName string, cache interface{}) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	if _, err = file.Write(jsonData); err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, cache *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cache)
}

// New loads fileName, creating it when it does not exist.
func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    NewCache(),
	}

	err := parseJSONFile(db.fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/New(): error while `parseJSONFile()` calling: %w", err)
		}
		if err := initDBFile(fileName); err != nil {
			return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/New(): error while `initDBFile()` calling: %w", err)
		}
	}
	db.fillNilMaps()

	return db, nil
}

// NewInMemory returns a JSONDB that is never written to disk.
func NewInMemory() *JSONDB {
	return &JSONDB{Cache: NewCache()}
}

func (db *JSONDB) fillNilMaps() {
	if db.Cache.Users == nil {
		db.Cache.Users = map[string]*user.User{}
	}
	if db.Cache.Links == nil {
		db.Cache.Links = map[string]*models.Link{}
	}
	if db.Cache.LinkOrder == nil {
		db.Cache.LinkOrder = []string{}
	}
}

// BeginTransaction is a no-op: every method below is atomic on its own.
func (db *JSONDB) BeginTransaction() (*sql.Tx, error) {
	return nil, nil
}

func (db *JSONDB) CommitTransaction(transaction *sql.Tx) error {
	return nil
}

func (db *JSONDB) RollbackTransaction(transaction *sql.Tx) error {
	return nil
}

// CreateUser stores usr, assigning ID and CreatedAt. Duplicate email or
// username yields models.ErrEmailTaken or models.ErrUsernameTaken.
func (db *JSONDB) CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Cache.Users {
		if strings.EqualFold(existing.Email, usr.Email) {
			return "", models.ErrEmailTaken
		}
		if existing.Username == usr.Username {
			return "", models.ErrUsernameTaken
		}
	}

	stored := *usr
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	db.Cache.Users[stored.ID] = &stored

	usr.ID = stored.ID
	usr.CreatedAt = stored.CreatedAt

	return stored.ID, nil
}

// IsEmailRegistered reports whether a user with this email exists.
func (db *JSONDB) IsEmailRegistered(ctx context.Context, email string, transaction *sql.Tx) (bool, error) {
	_, err := db.GetUserByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		return false, nil
	}

	return err == nil, err
}

// GetUserByEmail returns a copy of the user with this email or models.ErrUserNotFound.
func (db *JSONDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return db.findUser(func(u *user.User) bool { return strings.EqualFold(u.Email, email) })
}

// GetUserByUsername returns a copy of the user with this username or models.ErrUserNotFound.
func (db *JSONDB) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	return db.findUser(func(u *user.User) bool { return u.Username == username })
}

func (db *JSONDB) findUser(match func(*user.User) bool) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.Cache.Users {
		if match(u) {
			found := *u
			return &found, nil
		}
	}

	return nil, models.ErrUserNotFound
}

// InsertLink stores link if its short code is free, assigning ID and CreatedAt;
// otherwise it returns models.ErrShortCodeTaken and leaves the store unchanged.
func (db *JSONDB) InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.Cache.Links[link.ShortCode]; exists {
		return models.ErrShortCodeTaken
	}
	if _, ownerExists := db.Cache.Users[link.OwnerID]; !ownerExists {
		return models.ErrUserNotFound
	}

	stored := *link
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	db.Cache.Links[stored.ShortCode] = &stored
	db.Cache.LinkOrder = append(db.Cache.LinkOrder, stored.ShortCode)

	link.ID = stored.ID
	link.CreatedAt = stored.CreatedAt

	return nil
}

// FindLinkByShortCode returns a copy of the link or models.ErrLinkNotFound.
func (db *JSONDB) FindLinkByShortCode(ctx context.Context, shortCode string) (*models.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	link, found := db.Cache.Links[shortCode]
	if !found {
		return nil, models.ErrLinkNotFound
	}
	result := *link

	return &result, nil
}

// GetLinksByOwner returns copies of the owner's links in insertion order.
func (db *JSONDB) GetLinksByOwner(ctx context.Context, ownerID string) ([]*models.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	owned := funk.Filter(db.Cache.LinkOrder, func(shortCode string) bool {
		return db.Cache.Links[shortCode].OwnerID == ownerID
	}).([]string)

	result := make([]*models.Link, 0, len(owned))
	for _, shortCode := range owned {
		link := *db.Cache.Links[shortCode]
		result = append(result, &link)
	}

	return result, nil
}

// IncrementAccessCount adds one to the link's access count and returns the new value.
func (db *JSONDB) IncrementAccessCount(ctx context.Context, shortCode string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	link, found := db.Cache.Links[shortCode]
	if !found {
		return 0, models.ErrLinkNotFound
	}
	link.AccessCount++

	return link.AccessCount, nil
}

func (db *JSONDB) GetNumberOfLinks(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Links)), nil
}

func (db *JSONDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Users)), nil
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close writes the data set back to the file.
func (db *JSONDB) Close() error {
	if db.fileName == "" {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return writeToJSONFile(db.fileName, db.Cache)
}
