package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Repo persists templates and task instances as JSON documents next to the
// columns queries filter on.
type Repo struct {
	DB    *sql.DB
	cache *templateCache
}

var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// New returns a Repo with a template cache of cacheSize entries; zero disables
// the cache.
func New(db *sql.DB, cacheSize int) (Repo, error) {
	cache, err := newTemplateCache(cacheSize)
	if err != nil {
		return Repo{}, fmt.Errorf("template cache: %w", err)
	}
	return Repo{DB: db, cache: cache}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
