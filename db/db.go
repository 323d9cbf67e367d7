// Package db defines the ability to create a new database for the boundary.
package db

import (
	"github.com/dhannusch/pincer/db/iface"
	"github.com/dhannusch/pincer/db/kv"
)

// Database defines the persistence surface consumed by the boundary
// components.
type Database = iface.Database

// NewDB initializes a new boundary database at the directory path specified.
func NewDB(dirPath string) (Database, error) {
	return kv.NewKVStore(dirPath)
}
