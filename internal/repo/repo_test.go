package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"fieldwork/internal/db"
	"fieldwork/internal/domain"
	"fieldwork/internal/events"
	"fieldwork/internal/migrate"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Repo Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r, err := New(conn, 8)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	return testEnv{Repo: r, Ctx: context.Background()}
}

func (env testEnv) tx(t *testing.T, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func sampleTemplate() *domain.TaskTemplate {
	return &domain.TaskTemplate{
		ID:   1,
		Name: "Boiler inspection",
		Fns: []*domain.FnTemplate{{
			ID: 2, TaskTemplateID: 1, Name: "Survey", Type: domain.FnNormal, Order: 1,
			Fields: []*domain.FieldTemplate{{
				ID: 3, FnTemplateID: 2, Name: "Reading", Order: 1,
				Inputs: []*domain.InputTemplate{{ID: 4, TaskTemplateID: 1, FieldTemplateID: 3, Name: "Pressure", Type: domain.InputNumber, Order: 1}},
			}},
		}},
		DynamicInputs: []*domain.InputTemplate{{ID: 5, TaskTemplateID: 1, Name: "Reason", Type: domain.InputText, Order: 1}},
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
}

func sampleTask(id int64, code string) *domain.TaskInstance {
	return &domain.TaskInstance{
		ID:             id,
		TaskTemplateID: 1,
		Code:           code,
		Priority:       domain.PriorityNormal,
		Status:         domain.StatusPending,
		CreatedByID:    1,
		Version:        1,
		Fns:            []*domain.FnInstance{},
		CreatedAt:      fixedNow,
		UpdatedAt:      fixedNow,
	}
}

func TestTemplateRoundTripAndCache(t *testing.T) {
	env := newTestEnv(t)
	tpl := sampleTemplate()
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTemplateTx(env.Ctx, tx, tpl) }); err != nil {
		t.Fatalf("save template: %v", err)
	}
	got, err := env.Repo.GetTemplate(env.Ctx, 1)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Name != "Boiler inspection" || got.Input(4) == nil {
		t.Fatalf("unexpected template: %+v", got)
	}
	if env.Repo.cache.size() != 1 {
		t.Fatalf("expected template to be cached")
	}
	got.Name = "mutated"
	again, err := env.Repo.GetTemplate(env.Ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "Boiler inspection" {
		t.Fatalf("cache hits must not share state with earlier callers")
	}

	in, err := env.Repo.GetInputTemplate(env.Ctx, 5)
	if err != nil || in.Name != "Reason" {
		t.Fatalf("dynamic input lookup: %v %+v", err, in)
	}
	if _, err := env.Repo.GetInputTemplate(env.Ctx, 99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Repo.GetTemplate(env.Ctx, 42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tpl.Name = "Boiler survey"
	tpl.Fns[0].Fields[0].Inputs = nil
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTemplateTx(env.Ctx, tx, tpl) }); err != nil {
		t.Fatalf("update template: %v", err)
	}
	got, err = env.Repo.GetTemplate(env.Ctx, 1)
	if err != nil || got.Name != "Boiler survey" {
		t.Fatalf("update not visible: %v %+v", err, got)
	}
	if _, err := env.Repo.TemplateIDForInput(env.Ctx, 4); err != ErrNotFound {
		t.Fatalf("removed input still indexed: %v", err)
	}
	list, err := env.Repo.ListTemplates(env.Ctx)
	if err != nil || len(list) != 1 || list[0].Instances != 0 {
		t.Fatalf("list templates: %v %+v", err, list)
	}
}

func TestTaskVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTemplateTx(env.Ctx, tx, sampleTemplate()) }); err != nil {
		t.Fatal(err)
	}
	task := sampleTask(10, "BOIL-0001")
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.InsertTaskInstanceTx(env.Ctx, tx, task) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.InsertTaskInstanceTx(env.Ctx, tx, sampleTask(11, "BOIL-0001")) })
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate code to be rejected, got %v", err)
	}

	task.Status = domain.StatusInProgress
	task.Version = 2
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTaskInstanceTx(env.Ctx, tx, task, 1) }); err != nil {
		t.Fatalf("save: %v", err)
	}
	task.Version = 3
	err = env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTaskInstanceTx(env.Ctx, tx, task, 1) })
	var stale *domain.StaleUpdateError
	if !domain.IsStale(err) {
		t.Fatalf("expected a stale update, got %v", err)
	}
	if !errors.As(err, &stale) || stale.Actual != 2 {
		t.Fatalf("expected actual version 2, got %+v", stale)
	}
	err = env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTaskInstanceTx(env.Ctx, tx, sampleTask(77, "X-1"), 1) })
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := env.Repo.GetTaskInstanceByCode(env.Ctx, "BOIL-0001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusInProgress || got.Version != 2 {
		t.Fatalf("unexpected stored task: %+v", got)
	}
}

func TestListTaskInstancesFilters(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tx(t, func(tx *sql.Tx) error { return env.Repo.SaveTemplateTx(env.Ctx, tx, sampleTemplate()) }); err != nil {
		t.Fatal(err)
	}
	assignee := int64(7)
	trashed := fixedNow.Add(-48 * time.Hour)
	tasks := []*domain.TaskInstance{sampleTask(10, "A-1"), sampleTask(11, "A-2"), sampleTask(12, "A-3"), sampleTask(13, "A-4")}
	tasks[1].Status = domain.StatusCompleted
	tasks[1].AssigneeID = &assignee
	tasks[2].IsArchived = true
	tasks[3].TrashedAt = &trashed
	if err := env.tx(t, func(tx *sql.Tx) error {
		for _, task := range tasks {
			if err := env.Repo.InsertTaskInstanceTx(env.Ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	assertIDs := func(name string, f TaskFilter, want ...int64) {
		t.Helper()
		got, err := env.Repo.ListTaskInstances(env.Ctx, f)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %+v", name, want, got)
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Fatalf("%s: expected %v, got %+v", name, want, got)
			}
		}
	}
	notArchived := false
	assertIDs("default", TaskFilter{}, 12, 11, 10)
	assertIDs("status", TaskFilter{Statuses: []domain.TaskStatus{domain.StatusCompleted}}, 11)
	assertIDs("assignee", TaskFilter{AssigneeID: &assignee}, 11)
	assertIDs("archived", TaskFilter{Archived: &notArchived}, 11, 10)
	assertIDs("trashed", TaskFilter{Trashed: true}, 13)
	assertIDs("limit", TaskFilter{Limit: 1, Offset: 1}, 11)

	var ids []int64
	if err := env.tx(t, func(tx *sql.Tx) error {
		var err error
		ids, err = env.Repo.PurgeTrashedTx(env.Ctx, tx, fixedNow.Add(-24*time.Hour))
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 13 {
		t.Fatalf("expected task 13 to be purged, got %v", ids)
	}
	if _, err := env.Repo.GetTaskInstance(env.Ctx, 13); err != ErrNotFound {
		t.Fatalf("purged task still present: %v", err)
	}
}

func TestDeleteTemplateInUse(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tx(t, func(tx *sql.Tx) error {
		if err := env.Repo.SaveTemplateTx(env.Ctx, tx, sampleTemplate()); err != nil {
			return err
		}
		return env.Repo.InsertTaskInstanceTx(env.Ctx, tx, sampleTask(10, "A-1"))
	}); err != nil {
		t.Fatal(err)
	}
	err := env.tx(t, func(tx *sql.Tx) error {
		_, err := env.Repo.DeleteTemplateTx(env.Ctx, tx, 1, false)
		return err
	})
	if !domain.IsInUse(err) {
		t.Fatalf("expected InUseError, got %v", err)
	}
	var deleted []int64
	if err := env.tx(t, func(tx *sql.Tx) error {
		var err error
		deleted, err = env.Repo.DeleteTemplateTx(env.Ctx, tx, 1, true)
		return err
	}); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != 10 {
		t.Fatalf("expected task 10 deleted, got %v", deleted)
	}
	if _, err := env.Repo.GetTemplate(env.Ctx, 1); err != ErrNotFound {
		t.Fatalf("template still present: %v", err)
	}
	if _, err := env.Repo.TemplateIDForInput(env.Ctx, 4); err != ErrNotFound {
		t.Fatalf("input index not cascaded: %v", err)
	}
}

func TestCodesAndSequence(t *testing.T) {
	env := newTestEnv(t)
	if got := CodePrefix("Boiler inspection", ""); got != "BOILER-INSPECTION" {
		t.Fatalf("unexpected prefix %s", got)
	}
	if got := CodePrefix("whatever", "ins"); got != "INS" {
		t.Fatalf("override ignored: %s", got)
	}
	if got := CodePrefix("", ""); got != "TASK" {
		t.Fatalf("empty names fall back to TASK, got %s", got)
	}
	var codes []string
	if err := env.tx(t, func(tx *sql.Tx) error {
		for i := 0; i < 2; i++ {
			code, err := env.Repo.NextCodeTx(env.Ctx, tx, "INS", 4)
			if err != nil {
				return err
			}
			codes = append(codes, code)
		}
		if err := env.Repo.SaveSequenceTx(env.Ctx, tx, 500); err != nil {
			return err
		}
		return env.Repo.SaveSequenceTx(env.Ctx, tx, 300)
	}); err != nil {
		t.Fatal(err)
	}
	if codes[0] != "INS-0001" || codes[1] != "INS-0002" {
		t.Fatalf("unexpected codes %v", codes)
	}
	seq, err := env.Repo.LoadSequence(env.Ctx)
	if err != nil || seq != 500 {
		t.Fatalf("sequence must not move backwards: %d %v", seq, err)
	}
}

func TestEventsCursor(t *testing.T) {
	env := newTestEnv(t)
	w := events.Writer{DB: env.Repo.DB, Now: func() time.Time { return fixedNow }}.Correlated()
	if err := env.tx(t, func(tx *sql.Tx) error {
		if err := w.Append(env.Ctx, tx, events.TaskInstantiated, "task", 10, 1, nil); err != nil {
			return err
		}
		return w.Append(env.Ctx, tx, events.NotificationRequested, "task", 10, 1, events.EventPayload{"user_ids": []int64{7}})
	}); err != nil {
		t.Fatal(err)
	}
	latest, err := env.Repo.LatestEventID(env.Ctx)
	if err != nil || latest != 2 {
		t.Fatalf("expected latest id 2, got %d %v", latest, err)
	}
	after, err := env.Repo.EventsAfter(env.Ctx, 10, 1)
	if err != nil || len(after) != 1 || after[0].Type != events.NotificationRequested {
		t.Fatalf("events after cursor: %v %+v", err, after)
	}
	if after[0].CorrelationID == "" || after[0].CorrelationID != w.CorrelationID {
		t.Fatalf("correlation id not stored")
	}
	list, err := env.Repo.LatestEvents(env.Ctx, EventFilter{EntityKind: "task", EntityID: 10, Type: events.TaskInstantiated})
	if err != nil || len(list) != 1 {
		t.Fatalf("filtered events: %v %+v", err, list)
	}
}
