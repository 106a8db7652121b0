// Package memorystorage is the default store when neither a database DSN
// nor a storage file is configured. Data is lost on exit.
package memorystorage

import (
	"github.com/patric-chuzhbe/minurl/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewInMemory(),
	}, nil
}
