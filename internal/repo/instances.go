package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"fieldwork/internal/domain"
)

// TaskFilter narrows ListTaskInstances. Trashed tasks are hidden unless
// Trashed is set, which lists only them.
type TaskFilter struct {
	TemplateID int64
	Statuses   []domain.TaskStatus
	AssigneeID *int64
	CustomerID *int64
	Archived   *bool
	Trashed    bool
	Limit      int
	Offset     int
}

type TaskSummary struct {
	ID         int64             `json:"id"`
	TemplateID int64             `json:"task_template_id"`
	Code       string            `json:"code"`
	Status     domain.TaskStatus `json:"status"`
	Priority   domain.Priority   `json:"priority"`
	Progress   int               `json:"progress"`
	AssigneeID *int64            `json:"assignee_id,omitempty"`
	CustomerID *int64            `json:"customer_id,omitempty"`
	IsArchived bool              `json:"is_archived"`
	TrashedAt  *string           `json:"trashed_at,omitempty"`
	Version    int64             `json:"version"`
	UpdatedAt  string            `json:"updated_at"`
}

func (r Repo) InsertTaskInstanceTx(ctx context.Context, tx *sql.Tx, task *domain.TaskInstance) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", task.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO task_instances(id,task_template_id,code,status,priority,customer_id,assignee_id,created_by_id,is_archived,trashed_at,progress,version,doc_json,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID, task.TaskTemplateID, task.Code, string(task.Status), string(task.Priority), nullableID(task.CustomerID), nullableID(task.AssigneeID),
		task.CreatedByID, boolInt(task.IsArchived), formatTimePtr(task.TrashedAt), task.Progress, task.Version, string(raw),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: task_instances.code") {
		return &domain.ValidationError{Field: "code", Reason: fmt.Sprintf("%q is already in use", task.Code)}
	}
	if err != nil {
		return fmt.Errorf("insert task %d: %w", task.ID, err)
	}
	return nil
}

// SaveTaskInstanceTx writes task when the stored version still equals
// expectedVersion, and fails with StaleUpdateError otherwise.
func (r Repo) SaveTaskInstanceTx(ctx context.Context, tx *sql.Tx, task *domain.TaskInstance, expectedVersion int64) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", task.ID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE task_instances SET status=?,priority=?,customer_id=?,assignee_id=?,is_archived=?,trashed_at=?,progress=?,version=?,doc_json=?,updated_at=?
		WHERE id=? AND version=?`,
		string(task.Status), string(task.Priority), nullableID(task.CustomerID), nullableID(task.AssigneeID), boolInt(task.IsArchived),
		formatTimePtr(task.TrashedAt), task.Progress, task.Version, string(raw), formatTime(task.UpdatedAt), task.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("save task %d: %w", task.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var actual int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM task_instances WHERE id=?`, task.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &domain.StaleUpdateError{Entity: "task", ID: task.ID, Expected: expectedVersion, Actual: actual}
}

func (r Repo) GetTaskInstance(ctx context.Context, id int64) (*domain.TaskInstance, error) {
	return r.scanTask(r.DB.QueryRowContext(ctx, `SELECT doc_json FROM task_instances WHERE id=?`, id))
}

func (r Repo) GetTaskInstanceByCode(ctx context.Context, code string) (*domain.TaskInstance, error) {
	return r.scanTask(r.DB.QueryRowContext(ctx, `SELECT doc_json FROM task_instances WHERE code=?`, code))
}

func (r Repo) scanTask(row *sql.Row) (*domain.TaskInstance, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var task domain.TaskInstance
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func (r Repo) ListTaskInstances(ctx context.Context, f TaskFilter) ([]TaskSummary, error) {
	sb := builder().Select("id", "task_template_id", "code", "status", "priority", "progress", "assignee_id", "customer_id", "is_archived", "trashed_at", "version", "updated_at").
		From("task_instances").
		OrderBy("id DESC")
	if f.TemplateID != 0 {
		sb = sb.Where(sq.Eq{"task_template_id": f.TemplateID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		sb = sb.Where(sq.Eq{"status": statuses})
	}
	if f.AssigneeID != nil {
		sb = sb.Where(sq.Eq{"assignee_id": *f.AssigneeID})
	}
	if f.CustomerID != nil {
		sb = sb.Where(sq.Eq{"customer_id": *f.CustomerID})
	}
	if f.Archived != nil {
		sb = sb.Where(sq.Eq{"is_archived": boolInt(*f.Archived)})
	}
	if f.Trashed {
		sb = sb.Where(sq.NotEq{"trashed_at": nil})
	} else {
		sb = sb.Where(sq.Eq{"trashed_at": nil})
	}
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		sb = sb.Offset(uint64(f.Offset))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TaskSummary
	for rows.Next() {
		var (
			s                  TaskSummary
			assignee, customer sql.NullInt64
			archived           int
			trashedAt          sql.NullString
			status, priority   string
		)
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.Code, &status, &priority, &s.Progress, &assignee, &customer, &archived, &trashedAt, &s.Version, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = domain.TaskStatus(status)
		s.Priority = domain.Priority(priority)
		s.AssigneeID = idPtr(assignee)
		s.CustomerID = idPtr(customer)
		s.IsArchived = archived == 1
		if trashedAt.Valid {
			s.TrashedAt = &trashedAt.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// PurgeTrashedTx deletes tasks trashed before the cutoff and returns their ids.
func (r Repo) PurgeTrashedTx(ctx context.Context, tx *sql.Tx, before time.Time) ([]int64, error) {
	cutoff := formatTime(before)
	ids, err := queryIDs(ctx, tx, `SELECT id FROM task_instances WHERE trashed_at IS NOT NULL AND trashed_at < ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := builder().Delete("task_instances").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("purge trashed tasks: %w", err)
	}
	return ids, nil
}
