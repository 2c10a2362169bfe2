package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fieldwork/internal/authoring"
	"fieldwork/internal/config"
	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
	"fieldwork/internal/events"
	"fieldwork/internal/logger"
	"fieldwork/internal/notify"
	"fieldwork/internal/repo"
)

// Service runs every mutation as load, compute, guarded save. The engine
// and the author only see in-memory trees; Service owns the transaction,
// the event outbox and the id sequence. A workspace expects one Service
// writing at a time.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	events events.Writer
	Engine engine.Engine
	Author *authoring.Author
	Config *config.Config
	Log    logger.Logger
	Now    func() time.Time

	ids   *engine.Sequence
	locks *keyedMutex
}

// New seeds the node sequence from the store and wires the engine and the
// author to it.
func New(ctx context.Context, r repo.Repo, cfg *config.Config, log logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	start, err := r.LoadSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("load id sequence: %w", err)
	}
	ids := engine.NewSequenceAt(start)
	s := &Service{
		DB:     r.DB,
		Repo:   r,
		events: events.Writer{DB: r.DB},
		Engine: engine.New(ids),
		Author: authoring.New(ids),
		Config: cfg,
		Log:    log,
		Now:    time.Now,
		ids:    ids,
		locks:  newKeyedMutex(),
	}
	s.Engine.Now = s.now
	s.Author.Now = s.now
	s.events.Now = s.now
	return s, nil
}

func (s *Service) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Sequence exposes the node id sequence.
func (s *Service) Sequence() *engine.Sequence { return s.ids }

// syncSequence catches up with ids another process may have stored.
func (s *Service) syncSequence(ctx context.Context) error {
	v, err := s.Repo.LoadSequence(ctx)
	if err != nil {
		return fmt.Errorf("load id sequence: %w", err)
	}
	s.ids.Observe(v)
	return nil
}

// Result is the outcome of one task mutation.
type Result struct {
	Task    *domain.TaskInstance    `json:"task"`
	Changed bool                    `json:"changed"`
	Effects []engine.AppliedEffect  `json:"effects"`
	Row     *domain.TableRowInstance `json:"row,omitempty"`
	// Failures lists conditional actions that could not be applied. The
	// triggering change was still saved.
	Failures []string `json:"failures,omitempty"`

	partial *engine.EffectError
}

// Partial returns the effect failures as an error, or nil.
func (r *Result) Partial() error {
	if r == nil || r.partial == nil {
		return nil
	}
	return r.partial
}

// change is the primary event of a mutation.
type change struct {
	evtType    string
	entityKind string
	entityID   int64
	payload    events.EventPayload
}

type step func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error)

func taskKey(id int64) string     { return "task:" + strconv.FormatInt(id, 10) }
func templateKey(id int64) string { return "template:" + strconv.FormatInt(id, 10) }

// mutate loads a task, runs fn against it and persists the tree when its
// version moved. The save is guarded by the loaded version.
func (s *Service) mutate(ctx context.Context, taskID, actorID int64, fn step) (*Result, error) {
	unlock := s.locks.Lock(taskKey(taskID))
	defer unlock()

	if err := s.syncSequence(ctx); err != nil {
		return nil, err
	}
	task, err := s.Repo.GetTaskInstance(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, err)
	}
	cat, err := s.catalogFor(ctx, task)
	if err != nil {
		return nil, err
	}
	loaded := task.Version
	res, ch, err := fn(task, cat)
	var partial *engine.EffectError
	if err != nil && !errors.As(err, &partial) {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	res.Task = task
	res.Changed = task.Version != loaded
	if partial != nil {
		res.partial = partial
		for _, f := range partial.Failures {
			res.Failures = append(res.Failures, f.Error())
		}
	}
	if !res.Changed {
		return res, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.Repo.SaveTaskInstanceTx(ctx, tx, task, loaded); err != nil {
		return nil, err
	}
	w := s.events.Correlated()
	if ch != nil {
		if err := w.Append(ctx, tx, ch.evtType, ch.entityKind, ch.entityID, actorID, ch.payload); err != nil {
			return nil, err
		}
	}
	if err := s.appendEffects(ctx, tx, w, task, actorID, res.Effects, partial); err != nil {
		return nil, err
	}
	if err := s.Repo.SaveSequenceTx(ctx, tx, s.ids.Current()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log := s.Log.With("task", task.Code, "correlation_id", w.CorrelationID)
	if ch != nil {
		log.Debug("task saved", "event", ch.evtType, "version", task.Version, "effects", len(res.Effects))
	}
	if partial != nil {
		log.Warn("conditional actions failed", "failures", len(partial.Failures))
	}
	return res, nil
}

// appendEffects records every applied effect, the notifications they ask for
// and every failed action.
func (s *Service) appendEffects(ctx context.Context, tx *sql.Tx, w events.Writer, task *domain.TaskInstance, actorID int64, effects []engine.AppliedEffect, partial *engine.EffectError) error {
	for _, eff := range effects {
		payload := events.EventPayload{
			"kind":                  eff.Kind,
			"conditional_action_id": eff.ActionID,
			"level":                 eff.Level,
			"target_kind":           eff.TargetKind,
			"target_id":             eff.TargetID,
		}
		if eff.CreatedInputID != 0 {
			payload["created_input_id"] = eff.CreatedInputID
			payload["reused"] = eff.Reused
		}
		if err := w.Append(ctx, tx, events.EffectApplied, "task", task.ID, actorID, payload); err != nil {
			return err
		}
		if n, ok := notify.FromEffect(task, eff.Kind, eff.ActionID, eff.UserIDs, eff.Message); ok {
			if err := w.Append(ctx, tx, events.NotificationRequested, "task", task.ID, actorID, n.Payload()); err != nil {
				return err
			}
		}
	}
	if partial == nil {
		return nil
	}
	for _, f := range partial.Failures {
		if err := w.Append(ctx, tx, events.EffectFailed, "task", task.ID, actorID, events.EventPayload{"error": f.Error()}); err != nil {
			return err
		}
	}
	return nil
}

// catalogFor indexes the task's template plus every input template it may
// reach from elsewhere: templates named by ADD_DYNAMIC_INPUT actions and
// templates of dynamic inputs already added.
func (s *Service) catalogFor(ctx context.Context, task *domain.TaskInstance) (engine.Catalog, error) {
	tpl, err := s.Repo.GetTemplate(ctx, task.TaskTemplateID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &domain.TemplateNotFoundError{Kind: "task", ID: task.TaskTemplateID}
	}
	if err != nil {
		return nil, err
	}
	idx := engine.NewIndex(tpl)
	var wanted []int64
	for _, act := range tpl.Actions() {
		if act.ActionType != domain.ActionAddDynamicInput {
			continue
		}
		if id, err := strconv.ParseInt(act.ActionValue, 10, 64); err == nil {
			wanted = append(wanted, id)
		}
	}
	task.WalkInputs(func(p domain.InputPath) bool {
		wanted = append(wanted, p.Input.InputTemplateID)
		return true
	})
	for _, id := range wanted {
		if _, ok := idx.InputTemplate(id); ok {
			continue
		}
		in, err := s.Repo.GetInputTemplate(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			// The engine reports the dangling reference when it is used.
			continue
		}
		if err != nil {
			return nil, err
		}
		idx.AddInput(in)
	}
	return idx, nil
}
