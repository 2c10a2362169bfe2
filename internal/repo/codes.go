package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

const (
	nodeSequence   = "nodes"
	maxPrefixRunes = 24
)

// CodePrefix derives the task code prefix from a template name. A non-empty
// override wins.
func CodePrefix(templateName, override string) string {
	if p := strings.TrimSpace(override); p != "" {
		return strings.ToUpper(p)
	}
	s := slug.Make(templateName)
	if s == "" {
		s = "task"
	}
	if r := []rune(s); len(r) > maxPrefixRunes {
		s = strings.TrimRight(string(r[:maxPrefixRunes]), "-")
	}
	return strings.ToUpper(s)
}

// NextCodeTx bumps the counter of prefix and formats PREFIX-0001.
func (r Repo) NextCodeTx(ctx context.Context, tx *sql.Tx, prefix string, width int) (string, error) {
	if width < 1 {
		width = 4
	}
	var n int64
	err := tx.QueryRowContext(ctx, `INSERT INTO code_counters(prefix,value) VALUES (?,1)
		ON CONFLICT(prefix) DO UPDATE SET value=value+1 RETURNING value`, prefix).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next code for %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%0*d", prefix, width, n), nil
}

// LoadSequence returns the highest node id handed out so far.
func (r Repo) LoadSequence(ctx context.Context) (int64, error) {
	var v int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(value),0) FROM sequences WHERE name=?`, nodeSequence).Scan(&v)
	return v, err
}

// SaveSequenceTx records value; the stored sequence never moves backwards.
func (r Repo) SaveSequenceTx(ctx context.Context, tx *sql.Tx, value int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sequences(name,value) VALUES (?,?)
		ON CONFLICT(name) DO UPDATE SET value=MAX(value, excluded.value)`, nodeSequence, value)
	return err
}
