package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

func setupMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create sqlmock: %v", err)
	}
	return store.NewFromDB(db, store.DriverPostgres), mock
}

func withIC(ctx context.Context) context.Context {
	return toolregistry.WithInvocationContext(ctx, toolregistry.InvocationContext{
		UserID: "u1", SessionID: "s1", Workspace: "w1",
	})
}

func TestLogFood_MissingInvocationContext(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := LogFood(s)

	result, err := handler(context.Background(), json.RawMessage(`{"description":"oatmeal"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInternal {
		t.Fatalf("expected internal failure, got %+v", result)
	}
}

func TestLogFood_MalformedArguments(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := LogFood(s)

	result, err := handler(withIC(context.Background()), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestLogFood_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO food_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	handler := LogFood(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{"description":"oatmeal","meal":"breakfast"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestSearchFoodLog_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "workspace", "description", "meal", "logged_at", "created_at"}).
		AddRow("f1", "u1", "w1", "oatmeal", "breakfast", now, now)
	mock.ExpectQuery("SELECT (.+) FROM food_entries").WillReturnRows(rows)

	handler := SearchFoodLog(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestDeleteFoodEntry_NoMatchReturnsFailure(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("DELETE FROM food_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	handler := DeleteFoodEntry(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{"id":"missing"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateTask_InvalidRecurrenceRejected(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := CreateTask(s)

	result, err := handler(withIC(context.Background()), json.RawMessage(`{"title":"clean","recurrence":"fortnightly"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateTask_InvalidDueAtRejected(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := CreateTask(s)

	result, err := handler(withIC(context.Background()), json.RawMessage(`{"title":"clean","due_at":"not-a-time"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateTask_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(1, 1))

	handler := CreateTask(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{"title":"clean the kitchen","recurrence":"daily"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestCompleteTask_NoMatchReturnsFailure(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 0))

	handler := CompleteTask(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{"id":"missing"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateEvent_RejectsEndBeforeStart(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := CreateEvent(s)

	args := `{"title":"standup","starts_at":"2026-08-01T10:00:00Z","ends_at":"2026-08-01T09:00:00Z"}`
	result, err := handler(withIC(context.Background()), json.RawMessage(args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateEvent_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	handler := CreateEvent(s)
	args := `{"title":"standup","starts_at":"2026-08-01T09:00:00Z","ends_at":"2026-08-01T09:30:00Z"}`
	result, err := handler(withIC(context.Background()), json.RawMessage(args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestSearchEvents_InvalidFromRejected(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := SearchEvents(s)

	result, err := handler(withIC(context.Background()), json.RawMessage(`{"from":"not-a-time"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCancelEvent_NoMatchReturnsFailure(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("DELETE FROM events").WillReturnResult(sqlmock.NewResult(0, 0))

	handler := CancelEvent(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{"id":"missing"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestCreateReminder_InvalidFireAtRejected(t *testing.T) {
	s, _ := setupMockStore(t)
	handler := CreateReminder(s)

	result, err := handler(withIC(context.Background()), json.RawMessage(`{"content":"call mom","fire_at":"soon"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestCreateReminder_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO reminders").WillReturnResult(sqlmock.NewResult(1, 1))

	handler := CreateReminder(s)
	args := `{"content":"call mom","fire_at":"2026-08-01T09:00:00Z"}`
	result, err := handler(withIC(context.Background()), json.RawMessage(args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestSearchMemory_Success(t *testing.T) {
	s, mock := setupMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "workspace", "content", "fire_at", "fired", "access_count", "salience", "created_at"}).
		AddRow("r1", "u1", "w1", "call mom", now, false, 2, 0.9, now)
	mock.ExpectQuery("SELECT (.+) FROM reminders").WillReturnRows(rows)
	mock.ExpectExec("UPDATE reminders SET access_count").WillReturnResult(sqlmock.NewResult(0, 1))

	handler := SearchMemory(s)
	result, err := handler(withIC(context.Background()), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestRequestHandoff_UnknownTargetRejected(t *testing.T) {
	registered := func(name state.AgentName) bool { return name == "task" }
	handler := RequestHandoff(registered)

	result, err := handler(context.Background(), json.RawMessage(`{"target_agent":"unknown"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected invalid argument failure, got %+v", result)
	}
}

func TestRequestHandoff_KnownTargetSucceeds(t *testing.T) {
	registered := func(name state.AgentName) bool { return name == "task" }
	handler := RequestHandoff(registered)

	result, err := handler(context.Background(), json.RawMessage(`{"target_agent":"task","reason":"user wants to schedule something"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}
