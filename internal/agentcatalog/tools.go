package agentcatalog

import (
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/tools"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// Handlers carries the storage handle every tool handler closes over.
// Constructed once at startup and passed to New.
type Handlers struct {
	Store *store.Store
}

// registerTools registers every concrete tool descriptor/handler pair
// against reg, scoped to the agents that actually own each tool.
func registerTools(reg *toolregistry.Registry, c *Catalog, h Handlers) error {
	type toolReg struct {
		descriptor state.ToolDescriptor
		handler    toolregistry.Handler
	}

	regs := []toolReg{
		{
			descriptor: state.ToolDescriptor{
				Name:            "log_food",
				Description:     "Log a meal the user describes.",
				ParameterSchema: []byte(tools.LogFoodSchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Food},
			},
			handler: tools.LogFood(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "search_food_log",
				Description:     "Search the user's recently logged meals.",
				ParameterSchema: []byte(tools.SearchFoodLogSchema),
				SideEffect:      state.SideEffectRead,
				OwningAgents:    []state.AgentName{Food},
				Idempotent:      true,
			},
			handler: tools.SearchFoodLog(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "delete_food_entry",
				Description:     "Delete a previously logged food entry.",
				ParameterSchema: []byte(tools.DeleteFoodEntrySchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Food},
			},
			handler: tools.DeleteFoodEntry(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "create_task",
				Description:     "Create a to-do item, optionally recurring.",
				ParameterSchema: []byte(tools.CreateTaskSchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Task},
			},
			handler: tools.CreateTask(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "search_tasks",
				Description:     "Search the user's to-do items.",
				ParameterSchema: []byte(tools.SearchTasksSchema),
				SideEffect:      state.SideEffectRead,
				OwningAgents:    []state.AgentName{Task},
				Idempotent:      true,
			},
			handler: tools.SearchTasks(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "complete_task",
				Description:     "Mark a to-do item as completed.",
				ParameterSchema: []byte(tools.CompleteTaskSchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Task},
			},
			handler: tools.CompleteTask(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "create_event",
				Description:     "Schedule a calendar event, optionally recurring.",
				ParameterSchema: []byte(tools.CreateEventSchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Event},
			},
			handler: tools.CreateEvent(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "search_events",
				Description:     "Search the user's calendar within an optional window.",
				ParameterSchema: []byte(tools.SearchEventsSchema),
				SideEffect:      state.SideEffectRead,
				OwningAgents:    []state.AgentName{Event},
				Idempotent:      true,
			},
			handler: tools.SearchEvents(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "cancel_event",
				Description:     "Cancel a previously scheduled event.",
				ParameterSchema: []byte(tools.CancelEventSchema),
				SideEffect:      state.SideEffectWrite,
				OwningAgents:    []state.AgentName{Event},
			},
			handler: tools.CancelEvent(h.Store),
		},
		{
			descriptor: state.ToolDescriptor{
				Name:            "request_handoff",
				Description:     "Hand the conversation off to a different agent.",
				ParameterSchema: []byte(tools.RequestHandoffSchema),
				SideEffect:      state.SideEffectRead,
				OwningAgents:    []state.AgentName{Food, Task, Event, Reminder},
			},
			handler: tools.RequestHandoff(c.Registered),
		},
	}

	if _, ok := c.agents[Reminder]; ok {
		regs = append(regs,
			toolReg{
				descriptor: state.ToolDescriptor{
					Name:            "create_reminder",
					Description:     "Create a standalone reminder decoupled from tasks or events.",
					ParameterSchema: []byte(tools.CreateReminderSchema),
					SideEffect:      state.SideEffectWrite,
					OwningAgents:    []state.AgentName{Reminder},
				},
				handler: tools.CreateReminder(h.Store),
			},
			toolReg{
				descriptor: state.ToolDescriptor{
					Name:            "search_memory",
					Description:     "Recall previously stored reminders, weighted by salience.",
					ParameterSchema: []byte(tools.SearchMemorySchema),
					SideEffect:      state.SideEffectRead,
					OwningAgents:    []state.AgentName{Reminder},
				},
				handler: tools.SearchMemory(h.Store),
			},
		)
	}

	for _, r := range regs {
		if err := reg.Register(r.descriptor, r.handler); err != nil {
			return err
		}
	}
	return nil
}
