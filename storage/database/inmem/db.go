package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-proctor/core/session"
)

type (
	DB struct {
		violation *violationTable
	}

	violationTable struct {
		mutex sync.RWMutex
		table []session.Record // insertion order
	}
)

// Open returns an empty database. Data lives as long as the process.
func Open() *DB {
	return &DB{
		violation: &violationTable{},
	}
}
