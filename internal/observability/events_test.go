package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTurnIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetTurnID(ctx); got != "" {
		t.Errorf("expected empty turn ID, got %q", got)
	}
	ctx = AddTurnID(ctx, "turn-123")
	if got := GetTurnID(ctx); got != "turn-123" {
		t.Errorf("expected turn ID 'turn-123', got %q", got)
	}
}

func TestToolCallIDContext(t *testing.T) {
	ctx := context.Background()
	ctx = AddToolCallID(ctx, "call-1")
	if got := GetToolCallID(ctx); got != "call-1" {
		t.Errorf("expected 'call-1', got %q", got)
	}
}

func TestMessageIDContext(t *testing.T) {
	ctx := context.Background()
	ctx = AddMessageID(ctx, "msg-1")
	if got := GetMessageID(ctx); got != "msg-1" {
		t.Errorf("expected 'msg-1', got %q", got)
	}
}

func TestMemoryEventStore_RecordAndGetByTurnID(t *testing.T) {
	store := NewMemoryEventStore(100)

	e1 := &Event{TurnID: "turn-1", Type: EventTypeTurnStart, Name: "turn_start"}
	e2 := &Event{TurnID: "turn-1", Type: EventTypeToolStart, Name: "log_food"}
	e3 := &Event{TurnID: "turn-2", Type: EventTypeTurnStart, Name: "turn_start"}

	for _, e := range []*Event{e1, e2, e3} {
		if err := store.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	events, err := store.GetByTurnID("turn-1")
	if err != nil {
		t.Fatalf("GetByTurnID: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for turn-1, got %d", len(events))
	}
}

func TestMemoryEventStore_GetBySessionID(t *testing.T) {
	store := NewMemoryEventStore(100)
	store.Record(&Event{SessionID: "sess-1", Type: EventTypeTurnStart})
	store.Record(&Event{SessionID: "sess-1", Type: EventTypeTurnEnd})
	store.Record(&Event{SessionID: "sess-2", Type: EventTypeTurnStart})

	events, err := store.GetBySessionID("sess-1")
	if err != nil {
		t.Fatalf("GetBySessionID: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestMemoryEventStore_GetByType(t *testing.T) {
	store := NewMemoryEventStore(100)
	for i := 0; i < 5; i++ {
		store.Record(&Event{Type: EventTypeToolStart, Name: "log_food"})
	}
	store.Record(&Event{Type: EventTypeTurnStart})

	events, err := store.GetByType(EventTypeToolStart, 3)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(events))
	}
}

func TestMemoryEventStore_Get(t *testing.T) {
	store := NewMemoryEventStore(100)
	e := &Event{ID: "evt-1", Type: EventTypeTurnStart}
	store.Record(e)

	got, err := store.Get("evt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("expected evt-1, got %s", got.ID)
	}

	if _, err := store.Get("missing"); err == nil {
		t.Error("expected error for missing event")
	}
}

func TestMemoryEventStore_Delete(t *testing.T) {
	store := NewMemoryEventStore(100)
	store.events["old"] = &Event{ID: "old", Timestamp: time.Now().Add(-2 * time.Hour)}
	store.events["new"] = &Event{ID: "new", Timestamp: time.Now()}

	deleted, err := store.Delete(time.Hour)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
	if _, err := store.Get("old"); err == nil {
		t.Error("expected old event to be gone")
	}
	if _, err := store.Get("new"); err != nil {
		t.Error("expected new event to survive")
	}
}

func TestMemoryEventStore_EvictsOldestWhenFull(t *testing.T) {
	store := NewMemoryEventStore(10)
	for i := 0; i < 15; i++ {
		store.Record(&Event{Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond)})
	}
	if len(store.events) > 10 {
		t.Errorf("expected eviction to keep size near max, got %d", len(store.events))
	}
}

func TestEventRecorder_Record(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	ctx := AddTurnID(context.Background(), "turn-rec")
	ctx = AddSessionID(ctx, "sess-rec")

	if err := recorder.Record(ctx, EventTypeCustom, "custom_event", map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, _ := store.GetByTurnID("turn-rec")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SessionID != "sess-rec" {
		t.Errorf("expected session 'sess-rec', got %s", events[0].SessionID)
	}
}

func TestEventRecorder_RecordError(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddTurnID(context.Background(), "turn-err")

	err := recorder.RecordError(ctx, EventTypeToolError, "log_food", errors.New("boom"), nil)
	if err != nil {
		t.Fatalf("RecordError: %v", err)
	}

	events, _ := store.GetByTurnID("turn-err")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Error != "boom" {
		t.Errorf("expected error 'boom', got %s", events[0].Error)
	}
}

func TestEventRecorder_RecordToolStartAndEnd(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddTurnID(context.Background(), "turn-tool")

	if err := recorder.RecordToolStart(ctx, "log_food", map[string]string{"item": "banana"}); err != nil {
		t.Fatalf("RecordToolStart: %v", err)
	}
	if err := recorder.RecordToolEnd(ctx, "log_food", 10*time.Millisecond, map[string]string{"status": "ok"}, nil); err != nil {
		t.Fatalf("RecordToolEnd: %v", err)
	}

	events, _ := store.GetByTurnID("turn-tool")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTypeToolStart || events[1].Type != EventTypeToolEnd {
		t.Errorf("unexpected event types: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestEventRecorder_RecordToolEndWithError(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddTurnID(context.Background(), "turn-toolerr")

	recorder.RecordToolEnd(ctx, "log_food", time.Millisecond, nil, errors.New("handler panic"))

	events, _ := store.GetByTurnID("turn-toolerr")
	if len(events) != 1 || events[0].Type != EventTypeToolError {
		t.Fatalf("expected a single tool.error event, got %+v", events)
	}
}

func TestEventRecorder_RecordTurnStartAndEnd(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := context.Background()

	recorder.RecordTurnStart(ctx, "turn-lifecycle", map[string]interface{}{"agent": "food"})
	ctx = AddTurnID(ctx, "turn-lifecycle")
	recorder.RecordTurnEnd(ctx, 50*time.Millisecond, nil)

	events, _ := store.GetByTurnID("turn-lifecycle")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTypeTurnStart || events[1].Type != EventTypeTurnEnd {
		t.Errorf("unexpected lifecycle event types: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestEventRecorder_RecordTurnEndWithError(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddTurnID(context.Background(), "turn-fail")

	recorder.RecordTurnEnd(ctx, time.Millisecond, errors.New("turn budget exceeded"))

	events, _ := store.GetByTurnID("turn-fail")
	if len(events) != 1 || events[0].Type != EventTypeTurnError {
		t.Fatalf("expected a single turn.error event, got %+v", events)
	}
}

func TestEventRecorder_RecordHandoff(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddTurnID(context.Background(), "turn-handoff")

	recorder.RecordHandoff(ctx, "food", "reminders", "user asked to set a reminder")

	events, _ := store.GetByTurnID("turn-handoff")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Data["to_agent"] != "reminders" {
		t.Errorf("expected to_agent 'reminders', got %v", events[0].Data["to_agent"])
	}
}

func TestBuildTimeline_EmptyEvents(t *testing.T) {
	timeline := BuildTimeline(nil)
	if timeline.Summary.TotalEvents != 0 {
		t.Errorf("expected 0 events, got %d", timeline.Summary.TotalEvents)
	}
}

func TestBuildTimeline_Summary(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{Type: EventTypeTurnStart, Timestamp: base, TurnID: "t1", SessionID: "s1"},
		{Type: EventTypeToolStart, Timestamp: base.Add(time.Millisecond), Duration: 5 * time.Millisecond},
		{Type: EventTypeLLMRequest, Timestamp: base.Add(2 * time.Millisecond)},
		{Type: EventTypeHandoff, Timestamp: base.Add(3 * time.Millisecond)},
		{Type: EventTypeToolError, Timestamp: base.Add(4 * time.Millisecond), Error: "boom"},
		{Type: EventTypeTurnEnd, Timestamp: base.Add(5 * time.Millisecond)},
	}

	timeline := BuildTimeline(events)
	if timeline.TurnID != "t1" || timeline.SessionID != "s1" {
		t.Errorf("expected turn/session to be extracted, got %q/%q", timeline.TurnID, timeline.SessionID)
	}
	if timeline.Summary.ToolCalls != 1 {
		t.Errorf("expected 1 tool call, got %d", timeline.Summary.ToolCalls)
	}
	if timeline.Summary.LLMCalls != 1 {
		t.Errorf("expected 1 LLM call, got %d", timeline.Summary.LLMCalls)
	}
	if timeline.Summary.Handoffs != 1 {
		t.Errorf("expected 1 handoff, got %d", timeline.Summary.Handoffs)
	}
	if timeline.Summary.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", timeline.Summary.ErrorCount)
	}
}

func TestFormatTimeline_NilIsHandled(t *testing.T) {
	if got := FormatTimeline(nil); got != "No events found" {
		t.Errorf("expected placeholder text, got %q", got)
	}
}

func TestFormatTimeline_IncludesEventNames(t *testing.T) {
	timeline := BuildTimeline([]*Event{
		{Type: EventTypeTurnStart, Name: "turn_start", Timestamp: time.Now()},
		{Type: EventTypeToolError, Name: "log_food", Error: "boom", Timestamp: time.Now()},
	})

	out := FormatTimeline(timeline)
	if out == "" {
		t.Fatal("expected non-empty formatted timeline")
	}
}

func TestGenerateEventID_Unique(t *testing.T) {
	a := generateEventID()
	b := generateEventID()
	if a == b {
		t.Errorf("expected unique event IDs, got duplicate %q", a)
	}
}
