package store

import (
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixTask     = "task"
	PrefixTemplate = "tpl"
	PrefixRelation = "rel"
	PrefixEvent    = "evt"
)

// newRandomID returns prefix-<suffix> where suffix is the first n hex chars of a random UUID.
func newRandomID(prefix string, n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(raw) {
		n = len(raw)
	}
	return prefix + "-" + raw[:n]
}

// NextID returns an id with the given prefix that is not used anywhere in db.
// Ids start at 8 hex chars and grow when collisions repeat.
func (db *DB) NextID(prefix string) string {
	for _, ln := range []int{8, 12, 16} {
		for i := 0; i < 20; i++ {
			id := newRandomID(prefix, ln)
			if !idExists(db, id) {
				return id
			}
		}
	}
	return newRandomID(prefix, 32)
}

// NewEventID is used for events, which never collide with snapshot ids.
func NewEventID() string {
	return newRandomID(PrefixEvent, 12)
}

func idExists(db *DB, id string) bool {
	if db == nil {
		return false
	}
	if _, ok := db.FindTask(id); ok {
		return true
	}
	if _, ok := db.FindTemplate(id); ok {
		return true
	}
	_, ok := db.FindRelation(id)
	return ok
}
