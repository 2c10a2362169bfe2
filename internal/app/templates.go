package app

import (
	"context"
	"errors"
	"fmt"

	"fieldwork/internal/authoring"
	"fieldwork/internal/domain"
	"fieldwork/internal/events"
	"fieldwork/internal/repo"
)

// CreateTemplate stores an empty task template.
func (s *Service) CreateTemplate(ctx context.Context, name, description string, actorID int64) (*domain.TaskTemplate, error) {
	if err := s.syncSequence(ctx); err != nil {
		return nil, err
	}
	tpl, err := s.Author.CreateTaskTemplate(name, description)
	if err != nil {
		return nil, err
	}
	if err := s.saveTemplate(ctx, tpl, events.TemplateCreated, actorID); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ImportDefinition builds a template from its YAML definition and stores it.
func (s *Service) ImportDefinition(ctx context.Context, data []byte, actorID int64) (*domain.TaskTemplate, error) {
	def, err := authoring.ParseDefinition(data)
	if err != nil {
		return nil, &domain.ValidationError{Field: "definition", Reason: err.Error()}
	}
	if err := s.syncSequence(ctx); err != nil {
		return nil, err
	}
	tpl, err := s.Author.Build(def)
	if err != nil {
		return nil, err
	}
	if err := s.saveTemplate(ctx, tpl, events.TemplateCreated, actorID); err != nil {
		return nil, err
	}
	return tpl, nil
}

// EditTemplate applies edit to a private copy of the template and stores
// it when edit succeeds. Edits of one template are serialised. Once
// instances reference the template, edits that remove a node or change an
// input's type are refused with InUseError; additive edits still apply.
func (s *Service) EditTemplate(ctx context.Context, id, actorID int64, edit func(a *authoring.Author, tpl *domain.TaskTemplate) error) (*domain.TaskTemplate, error) {
	unlock := s.locks.Lock(templateKey(id))
	defer unlock()

	if err := s.syncSequence(ctx); err != nil {
		return nil, err
	}
	tpl, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	before := templateShape(tpl)
	if err := edit(s.Author, tpl); err != nil {
		return nil, err
	}
	if before.narrowedBy(templateShape(tpl)) {
		n, err := s.Repo.CountInstances(ctx, id)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, &domain.InUseError{TemplateID: id, Instances: n}
		}
	}
	tpl.UpdatedAt = s.now()
	if err := s.saveTemplate(ctx, tpl, events.TemplateUpdated, actorID); err != nil {
		return nil, err
	}
	return tpl, nil
}

// shape records the nodes instances resolve back to their template.
type shape struct {
	fns    map[int64]bool
	fields map[int64]bool
	inputs map[int64]domain.InputType
}

func templateShape(tpl *domain.TaskTemplate) shape {
	sh := shape{fns: map[int64]bool{}, fields: map[int64]bool{}, inputs: map[int64]domain.InputType{}}
	for _, fn := range tpl.Fns {
		sh.fns[fn.ID] = true
		for _, f := range fn.Fields {
			sh.fields[f.ID] = true
		}
	}
	tpl.WalkInputs(func(in *domain.InputTemplate) bool {
		sh.inputs[in.ID] = in.Type
		return true
	})
	return sh
}

// narrowedBy reports whether next dropped a node or retyped an input.
func (sh shape) narrowedBy(next shape) bool {
	for id := range sh.fns {
		if !next.fns[id] {
			return true
		}
	}
	for id := range sh.fields {
		if !next.fields[id] {
			return true
		}
	}
	for id, t := range sh.inputs {
		if nt, ok := next.inputs[id]; !ok || nt != t {
			return true
		}
	}
	return false
}

func (s *Service) saveTemplate(ctx context.Context, tpl *domain.TaskTemplate, evtType string, actorID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.Repo.SaveTemplateTx(ctx, tx, tpl); err != nil {
		return err
	}
	fns, fields, inputs := tpl.Shape()
	if err := s.events.Correlated().Append(ctx, tx, evtType, "template", tpl.ID, actorID, events.EventPayload{
		"name":   tpl.Name,
		"fns":    fns,
		"fields": fields,
		"inputs": inputs,
	}); err != nil {
		return err
	}
	if err := s.Repo.SaveSequenceTx(ctx, tx, s.ids.Current()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.Repo.ForgetTemplate(tpl.ID)
	s.Log.Info("template saved", "template", tpl.ID, "name", tpl.Name, "event", evtType)
	return nil
}

// GetTemplate returns a private copy of a stored template.
func (s *Service) GetTemplate(ctx context.Context, id int64) (*domain.TaskTemplate, error) {
	tpl, err := s.Repo.GetTemplate(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &domain.TemplateNotFoundError{Kind: "task", ID: id}
	}
	return tpl, err
}

func (s *Service) ListTemplates(ctx context.Context) ([]repo.TemplateSummary, error) {
	return s.Repo.ListTemplates(ctx)
}

// DeleteTemplate removes a template. With cascade its instances go too and
// their ids are returned.
func (s *Service) DeleteTemplate(ctx context.Context, id int64, cascade bool, actorID int64) ([]int64, error) {
	unlock := s.locks.Lock(templateKey(id))
	defer unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	purged, err := s.Repo.DeleteTemplateTx(ctx, tx, id, cascade)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &domain.TemplateNotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, err
	}
	w := s.events.Correlated()
	for _, taskID := range purged {
		if err := w.Append(ctx, tx, events.TaskPurged, "task", taskID, actorID, events.EventPayload{"reason": "template deleted"}); err != nil {
			return nil, err
		}
	}
	if err := w.Append(ctx, tx, events.TemplateDeleted, "template", id, actorID, events.EventPayload{"instances": len(purged)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete template %d: %w", id, err)
	}
	s.Repo.ForgetTemplate(id)
	s.Log.Info("template deleted", "template", id, "instances", len(purged))
	return purged, nil
}
