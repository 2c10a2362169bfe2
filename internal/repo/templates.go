package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fieldwork/internal/domain"
)

type TemplateSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
	Instances int    `json:"instances"`
}

// SaveTemplateTx inserts or replaces a template and rebuilds its input index.
func (r Repo) SaveTemplateTx(ctx context.Context, tx *sql.Tx, tpl *domain.TaskTemplate) error {
	raw, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template %d: %w", tpl.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_templates(id,name,doc_json,created_at,updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, doc_json=excluded.doc_json, updated_at=excluded.updated_at`,
		tpl.ID, tpl.Name, string(raw), formatTime(tpl.CreatedAt), formatTime(tpl.UpdatedAt)); err != nil {
		return fmt.Errorf("save template %d: %w", tpl.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM input_template_index WHERE task_template_id=?`, tpl.ID); err != nil {
		return fmt.Errorf("clear input index: %w", err)
	}
	var idxErr error
	tpl.WalkInputs(func(in *domain.InputTemplate) bool {
		_, idxErr = tx.ExecContext(ctx, `INSERT INTO input_template_index(input_template_id,task_template_id) VALUES (?,?)`, in.ID, tpl.ID)
		return idxErr == nil
	})
	if idxErr != nil {
		return fmt.Errorf("index inputs of template %d: %w", tpl.ID, idxErr)
	}
	r.cache.drop(tpl.ID)
	return nil
}

// ForgetTemplate evicts a cached template; call it once a write committed.
func (r Repo) ForgetTemplate(id int64) {
	r.cache.drop(id)
}

func (r Repo) GetTemplate(ctx context.Context, id int64) (*domain.TaskTemplate, error) {
	if tpl, ok := r.cache.get(id); ok {
		return tpl, nil
	}
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT doc_json FROM task_templates WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tpl domain.TaskTemplate
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		return nil, fmt.Errorf("decode template %d: %w", id, err)
	}
	r.cache.put(id, []byte(raw))
	return &tpl, nil
}

func (r Repo) ListTemplates(ctx context.Context) ([]TemplateSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id, t.name, t.updated_at,
		(SELECT COUNT(*) FROM task_instances i WHERE i.task_template_id=t.id)
		FROM task_templates t ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TemplateSummary
	for rows.Next() {
		var s TemplateSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.UpdatedAt, &s.Instances); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TemplateIDForInput resolves the template owning an input template.
func (r Repo) TemplateIDForInput(ctx context.Context, inputTemplateID int64) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT task_template_id FROM input_template_index WHERE input_template_id=?`, inputTemplateID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) GetInputTemplate(ctx context.Context, inputTemplateID int64) (*domain.InputTemplate, error) {
	tplID, err := r.TemplateIDForInput(ctx, inputTemplateID)
	if err != nil {
		return nil, err
	}
	tpl, err := r.GetTemplate(ctx, tplID)
	if err != nil {
		return nil, err
	}
	in := tpl.Input(inputTemplateID)
	if in == nil {
		return nil, ErrNotFound
	}
	return in, nil
}

// CountInstances returns how many task instances reference the template.
func (r Repo) CountInstances(ctx context.Context, templateID int64) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_instances WHERE task_template_id=?`, templateID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instances of template %d: %w", templateID, err)
	}
	return n, nil
}

// DeleteTemplateTx removes a template. Templates still referenced by
// instances are refused with InUseError unless cascade deletes those
// instances too; the ids of deleted instances are returned.
func (r Repo) DeleteTemplateTx(ctx context.Context, tx *sql.Tx, id int64, cascade bool) ([]int64, error) {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_templates WHERE id=?`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	ids, err := queryIDs(ctx, tx, `SELECT id FROM task_instances WHERE task_template_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 && !cascade {
		return nil, &domain.InUseError{TemplateID: id, Instances: len(ids)}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_instances WHERE task_template_id=?`, id); err != nil {
		return nil, fmt.Errorf("delete instances of template %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_templates WHERE id=?`, id); err != nil {
		return nil, fmt.Errorf("delete template %d: %w", id, err)
	}
	r.cache.drop(id)
	return ids, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
