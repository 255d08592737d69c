package scheduler

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(db, store.DriverSQLite), mock
}

func newPingableMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(db, store.DriverSQLite), mock
}

type fakeSink struct {
	notified []string
	fail     bool
}

func (f *fakeSink) Notify(ctx context.Context, r *store.Reminder) error {
	if f.fail {
		return errors.New("notify failed")
	}
	f.notified = append(f.notified, r.ID)
	return nil
}

func newTestScheduler(t *testing.T, st *store.Store, notifier NotificationSink) *Scheduler {
	t.Helper()
	s, err := New(Config{}, st, notifier, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestFireReminders_NotifiesAndMarksFired(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "workspace", "content", "fire_at", "fired", "access_count", "salience", "created_at"}).
		AddRow("r1", "u1", "w1", "buy milk", now.Add(-time.Minute), false, 0, 1.0, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at").WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reminders SET fired").WithArgs(true, "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sink := &fakeSink{}
	s := newTestScheduler(t, st, sink)
	s.fireReminders(context.Background())

	if len(sink.notified) != 1 || sink.notified[0] != "r1" {
		t.Fatalf("expected reminder r1 notified, got %v", sink.notified)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFireReminders_NotifyFailureRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "workspace", "content", "fire_at", "fired", "access_count", "salience", "created_at"}).
		AddRow("r1", "u1", "w1", "buy milk", now.Add(-time.Minute), false, 0, 1.0, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at").WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reminders SET fired").WithArgs(true, "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	sink := &fakeSink{fail: true}
	s := newTestScheduler(t, st, sink)
	s.fireReminders(context.Background())

	if len(sink.notified) != 0 {
		t.Fatalf("expected no successful notifications, got %v", sink.notified)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExpandRecurringTasks_InsertsNextOccurrenceAndClosesOld(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	dueAt := now.Add(-24 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "workspace", "title", "notes", "due_at", "priority", "recurrence", "status", "completed_at", "created_at", "updated_at",
	}).AddRow("t1", "u1", "w1", "standup", "", dueAt, 0, "daily", store.TaskStatusOpen, nil, now.Add(-48*time.Hour), now.Add(-48*time.Hour))
	mock.ExpectQuery("SELECT id, user_id, workspace, title, notes, due_at, priority, recurrence, status, completed_at, created_at, updated_at").
		WillReturnRows(rows)

	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	s := newTestScheduler(t, st, &fakeSink{})
	s.expandRecurringTasks(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCleanupOldData_RunsAllThreeSweeps(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM events").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE reminders SET salience").WillReturnResult(sqlmock.NewResult(0, 5))

	s := newTestScheduler(t, st, &fakeSink{})
	s.retention = 24 * time.Hour
	s.cleanupOldData(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHealthProbe_RecordsDatastoreAndLLMStatus(t *testing.T) {
	st, mock := newPingableMockStore(t)
	mock.ExpectPing()

	s := newTestScheduler(t, st, &fakeSink{})
	s.healthCapability = &fakeCapability{}
	s.healthProbe(context.Background())

	got := s.Health()
	if got["datastore"] != "ok" {
		t.Fatalf("expected datastore ok, got %q", got["datastore"])
	}
	if got["llm"] != "ok" {
		t.Fatalf("expected llm ok, got %q", got["llm"])
	}
}

type fakeCapability struct{}

func (fakeCapability) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (*llm.CompletionResult, error) {
	return &llm.CompletionResult{Message: llm.Message{Content: "pong"}}, nil
}
func (fakeCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

func TestVaultSync_SkipsUnsupportedFilesAndSyncsNotes(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO reminders").WillReturnResult(sqlmock.NewResult(0, 1))

	vaultFS := fstest.MapFS{
		"notes/a.md":   {Data: []byte("remember to water plants")},
		"notes/a.json": {Data: []byte(`{"ignored":true}`)},
	}

	synced, err := vaultSync(context.Background(), VaultConfig{
		FS: vaultFS, Root: "notes", UserID: "u1", Workspace: "w1",
	}, fakeCapability{}, st, time.Now())
	if err != nil {
		t.Fatalf("vaultSync: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected 1 file synced, got %d", synced)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVaultSync_NilFSIsNoop(t *testing.T) {
	st, _ := newMockStore(t)
	synced, err := vaultSync(context.Background(), VaultConfig{}, fakeCapability{}, st, time.Now())
	if err != nil {
		t.Fatalf("vaultSync: %v", err)
	}
	if synced != 0 {
		t.Fatalf("expected 0 synced for nil FS, got %d", synced)
	}
}

func TestReconcile_LocalWinsOnNewItem(t *testing.T) {
	local := []ExternalRecord{{LocalID: "l1", Title: "new local task", UpdatedAt: time.Now()}}
	toPush, toApplyLocally := reconcile(local, nil)
	if len(toPush) != 1 || toPush[0].LocalID != "l1" {
		t.Fatalf("expected local-only record pushed, got %v", toPush)
	}
	if len(toApplyLocally) != 0 {
		t.Fatalf("expected nothing to apply locally, got %v", toApplyLocally)
	}
}

func TestReconcile_ExternalWinsOnSameFieldChange(t *testing.T) {
	now := time.Now()
	local := []ExternalRecord{{LocalID: "l1", Title: "old title", UpdatedAt: now.Add(-time.Hour)}}
	external := []ExternalRecord{{LocalID: "l1", ExternalID: "e1", Title: "new title", UpdatedAt: now}}

	toPush, toApplyLocally := reconcile(local, external)
	if len(toPush) != 0 {
		t.Fatalf("expected nothing pushed, got %v", toPush)
	}
	if len(toApplyLocally) != 1 || toApplyLocally[0].Title != "new title" {
		t.Fatalf("expected external record applied locally, got %v", toApplyLocally)
	}
}

func TestReconcile_ExternalOnlyRecordAppliedLocally(t *testing.T) {
	external := []ExternalRecord{{ExternalID: "e1", Title: "external-created"}}
	toPush, toApplyLocally := reconcile(nil, external)
	if len(toPush) != 0 {
		t.Fatalf("expected nothing pushed, got %v", toPush)
	}
	if len(toApplyLocally) != 1 {
		t.Fatalf("expected external-only record applied locally, got %v", toApplyLocally)
	}
}
