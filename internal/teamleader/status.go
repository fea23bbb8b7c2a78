package teamleader

import (
	"time"

	"github.com/HendryAvila/devteam/internal/agents"
	"github.com/HendryAvila/devteam/internal/contextmgr"
	"github.com/HendryAvila/devteam/internal/orchestrator"
	"github.com/HendryAvila/devteam/internal/rules"
	"github.com/HendryAvila/devteam/internal/store"
	"github.com/HendryAvila/devteam/internal/task"
)

// Status is the team leader health report.
type Status struct {
	TeamLeaderID        string                `json:"team_leader_id"`
	Status              string                `json:"status"`
	Message             string                `json:"message,omitempty"`
	UptimeSeconds       float64               `json:"uptime_seconds"`
	CurrentPhase        rules.Phase           `json:"current_phase"`
	PhaseProgress       float64               `json:"phase_progress"`
	CanProgressPhase    bool                  `json:"can_progress_phase"`
	PendingCriteria     []string              `json:"pending_criteria"`
	ComplexityBudget    int                   `json:"complexity_budget"`
	ComplexityUsed      int                   `json:"complexity_used"`
	ComplexityRemaining int                   `json:"complexity_remaining"`
	TasksCompleted      int                   `json:"tasks_completed"`
	ErrorsCount         int                   `json:"errors_count"`
	TaskMetrics         *orchestrator.Metrics `json:"task_metrics,omitempty"`
	ContextCacheStats   contextmgr.CacheStats `json:"context_cache_stats"`
	MCPServers          []string              `json:"mcp_servers"`
	InitializationTime  *time.Time            `json:"initialization_time,omitempty"`
}

// Status reports health, phase and budget. Before Initialize it reports
// "not_initialized".
func (tl *TeamLeader) Status() Status {
	tl.mu.Lock()
	initialized := tl.initialized
	started := tl.startedAt
	tasks, errs := tl.taskCount, tl.errorCount
	tl.mu.Unlock()

	if !initialized {
		return Status{
			TeamLeaderID: tl.id,
			Status:       "not_initialized",
			Message:      "TeamLeader not initialized. Call Initialize first.",
		}
	}

	ps := tl.rules.PhaseStatus()
	metrics := tl.orch.Metrics()
	return Status{
		TeamLeaderID:        tl.id,
		Status:              "operational",
		UptimeSeconds:       timeNow().Sub(started).Seconds(),
		CurrentPhase:        ps.CurrentPhase,
		PhaseProgress:       ps.PhaseProgress,
		CanProgressPhase:    ps.CanProgress,
		PendingCriteria:     ps.PendingCriteria,
		ComplexityBudget:    ps.ComplexityBudget,
		ComplexityUsed:      ps.ComplexityUsed,
		ComplexityRemaining: ps.ComplexityRemaining,
		TasksCompleted:      tasks,
		ErrorsCount:         errs,
		TaskMetrics:         &metrics,
		ContextCacheStats:   tl.contexts.CacheStats(),
		MCPServers:          tl.mcp.Servers(),
		InitializationTime:  &started,
	}
}

// PhaseStatus returns the rules engine snapshot.
func (tl *TeamLeader) PhaseStatus() rules.PhaseStatus {
	return tl.rules.PhaseStatus()
}

// AvailableAgents lists every agent with its status and capabilities.
func (tl *TeamLeader) AvailableAgents() []agents.Snapshot {
	tl.mu.Lock()
	reg := tl.registry
	tl.mu.Unlock()
	if reg == nil {
		return []agents.Snapshot{}
	}
	return reg.Snapshots()
}

// QueueStatus is the orchestrator's current workload.
type QueueStatus struct {
	ActiveTasks []task.ExecutionRecord `json:"active_tasks"`
	RecentTasks []task.ExecutionRecord `json:"recent_tasks"`
	Metrics     orchestrator.Metrics   `json:"metrics"`
}

// QueueStatus returns active tasks, the 20 most recent finished tasks and
// orchestrator metrics.
func (tl *TeamLeader) QueueStatus() QueueStatus {
	if tl.ready() != nil {
		return QueueStatus{ActiveTasks: []task.ExecutionRecord{}, RecentTasks: []task.ExecutionRecord{}}
	}
	return QueueStatus{
		ActiveTasks: tl.orch.ActiveTasks(),
		RecentTasks: tl.orch.History(20),
		Metrics:     tl.orch.Metrics(),
	}
}

// History returns persisted executions when a store is configured,
// otherwise the in-memory history. Newest first.
func (tl *TeamLeader) History(limit int) ([]task.ExecutionRecord, error) {
	if tl.store != nil {
		return tl.store.RecentExecutions(limit)
	}
	if tl.ready() != nil {
		return []task.ExecutionRecord{}, nil
	}
	return tl.orch.History(limit), nil
}

// Stats returns persisted aggregate statistics, or nil without a store.
func (tl *TeamLeader) Stats() (*store.Stats, error) {
	if tl.store == nil {
		return nil, nil
	}
	return tl.store.Stats()
}

// ResetBudget clears spent complexity for a new project or part.
func (tl *TeamLeader) ResetBudget() {
	tl.rules.ResetBudget()
}
