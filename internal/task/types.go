// Package task holds the vocabulary shared by the rules engine, the
// context manager, the orchestrator and the agents: task specs, results,
// agent contexts and execution records.
package task

import (
	"strings"
	"time"

	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// Status is the lifecycle state of a task execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelegated  Status = "delegated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Priority orders queued work. Any value in 1..10 is accepted; these are
// the named levels.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 7
	PriorityCritical Priority = 10
)

// Complexity and priority bounds.
const (
	MinComplexity = 1
	MaxComplexity = 10
	MinPriority   = 1
	MaxPriority   = 10
)

// Spec describes one unit of delegated work.
//
// TaskType selects the agent's handler (e.g. "competitive_research").
// Category is the phase-level work category checked against the current
// phase's allowed tasks (e.g. "research"). An empty Category falls back
// to TaskType.
type Spec struct {
	TaskID     string         `json:"task_id"`
	AgentType  string         `json:"agent_type"`
	TaskType   string         `json:"task_type"`
	Category   string         `json:"category,omitempty"`
	Task       string         `json:"task"`
	Complexity int            `json:"complexity"`
	Priority   int            `json:"priority"`
	ProjectID  string         `json:"project_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EffectiveCategory returns Category, or TaskType when Category is empty.
func (s Spec) EffectiveCategory() string {
	if s.Category != "" {
		return s.Category
	}
	return s.TaskType
}

// MetadataString returns a string metadata value or "".
func (s Spec) MetadataString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	v, _ := s.Metadata[key].(string)
	return v
}

// Validate checks the structural invariants of a spec.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.AgentType) == "" {
		return sdkerr.Validation("agent_type is required")
	}
	if strings.TrimSpace(s.TaskType) == "" {
		return sdkerr.Validation("task_type is required")
	}
	if strings.TrimSpace(s.Task) == "" {
		return sdkerr.Validation("task description is required")
	}
	if s.Complexity < MinComplexity || s.Complexity > MaxComplexity {
		return sdkerr.Validation("complexity %d out of range %d..%d", s.Complexity, MinComplexity, MaxComplexity).
			WithDetail("complexity", s.Complexity)
	}
	if s.Priority < MinPriority || s.Priority > MaxPriority {
		return sdkerr.Validation("priority %d out of range %d..%d", s.Priority, MinPriority, MaxPriority).
			WithDetail("priority", s.Priority)
	}
	return nil
}

// Result is what an agent returns for a spec.
type Result struct {
	TaskID          string         `json:"task_id"`
	AgentID         string         `json:"agent_id"`
	Status          Status         `json:"status"`
	Content         string         `json:"content"`
	ExecutionTime   time.Duration  `json:"execution_time"`
	ConfidenceScore float64        `json:"confidence_score"`
	Sources         []string       `json:"sources,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Message is one conversation turn carried in an agent context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is everything an agent needs to run a spec: its system prompt,
// prior conversation, MCP availability and bookkeeping metadata.
type Context struct {
	SystemPrompt string         `json:"system_prompt"`
	History      []Message      `json:"conversation_history"`
	MCPContext   map[string]any `json:"mcp_context"`
	Spec         Spec           `json:"task_specification"`
	Metadata     map[string]any `json:"metadata"`
	Hash         string         `json:"context_hash"`
}

// Event is a timestamped entry in an execution's event log.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionRecord is the externally visible view of one task execution.
type ExecutionRecord struct {
	TaskID      string         `json:"task_id"`
	AgentID     string         `json:"agent_id,omitempty"`
	AgentType   string         `json:"agent_type"`
	TaskType    string         `json:"task_type"`
	Status      Status         `json:"status"`
	Complexity  int            `json:"complexity"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	TimeoutAt   *time.Time     `json:"timeout_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"progress_message,omitempty"`
	Events      []Event        `json:"events,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"execution_metadata,omitempty"`
}
