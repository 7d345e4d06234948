package taskflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arctek/taskflow/workflow"
)

// SweepType identifies an always-running background sweep.
type SweepType string

const (
	SweepUnblock    SweepType = "Unblock"    // Re-checks blocked tasks against their blockers
	SweepEscalation SweepType = "Escalation" // Notifies the lead about long-blocked tasks
	SweepExpiry     SweepType = "Expiry"     // Removes expired notifications
	SweepAutoAssign SweepType = "AutoAssign" // Assigns idle backlog tasks
)

// SweepStatus reports the current state of a background sweep.
type SweepStatus struct {
	Type            SweepType `json:"type"`
	Status          string    `json:"status"` // "Running", "Idle", "Stopped", "Error"
	CurrentActivity string    `json:"currentActivity"`
	LastActiveAt    time.Time `json:"lastActiveAt"`
	CycleCount      int       `json:"cycleCount"`
}

// SweepManager runs the engine's periodic maintenance sweeps, each on its
// own ticker. A sweep failure is logged and retried next cycle.
type SweepManager struct {
	engine *Engine
	sweeps map[SweepType]*sweep
	mu     sync.RWMutex
	stopCh chan struct{}

	// escalated remembers which blocked tasks already triggered an
	// escalation, so the lead is pinged once per blocked episode.
	escalated map[string]bool
	escMu     sync.Mutex
}

type sweep struct {
	sweepType SweepType
	status    SweepStatus
	interval  time.Duration
	runFunc   func(context.Context) error
	mu        sync.RWMutex
}

// NewSweepManager creates a sweep manager over the engine.
func NewSweepManager(e *Engine) *SweepManager {
	m := &SweepManager{
		engine:    e,
		sweeps:    make(map[SweepType]*sweep),
		stopCh:    make(chan struct{}),
		escalated: make(map[string]bool),
	}

	m.registerSweep(SweepUnblock, 30*time.Second, m.runUnblockSweep)
	m.registerSweep(SweepEscalation, 5*time.Minute, m.runEscalationSweep)
	m.registerSweep(SweepExpiry, time.Hour, m.runExpirySweep)
	m.registerSweep(SweepAutoAssign, 2*time.Minute, m.runAutoAssignSweep)

	return m
}

func (m *SweepManager) registerSweep(sweepType SweepType, interval time.Duration, runFunc func(context.Context) error) {
	m.sweeps[sweepType] = &sweep{
		sweepType: sweepType,
		status: SweepStatus{
			Type:            sweepType,
			Status:          "Idle",
			CurrentActivity: "Waiting to start",
			LastActiveAt:    time.Now(),
		},
		interval: interval,
		runFunc:  runFunc,
	}
}

// Start launches all sweeps.
func (m *SweepManager) Start(ctx context.Context) {
	m.engine.logger.Info("Starting background sweeps")

	for _, s := range m.sweeps {
		go m.runSweepLoop(ctx, s)
	}
}

// Stop stops all sweeps.
func (m *SweepManager) Stop() {
	close(m.stopCh)
}

// GetStatuses returns the current status of every sweep.
func (m *SweepManager) GetStatuses() []SweepStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]SweepStatus, 0, len(m.sweeps))
	for _, s := range m.sweeps {
		s.mu.RLock()
		statuses = append(statuses, s.status)
		s.mu.RUnlock()
	}
	return statuses
}

func (m *SweepManager) updateSweepStatus(s *sweep, status, activity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Status = status
	s.status.CurrentActivity = activity
	s.status.LastActiveAt = time.Now()
}

func (m *SweepManager) runSweepLoop(ctx context.Context, s *sweep) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	m.executeSweepCycle(ctx, s)

	for {
		select {
		case <-ctx.Done():
			m.updateSweepStatus(s, "Stopped", "Context cancelled")
			return
		case <-m.stopCh:
			m.updateSweepStatus(s, "Stopped", "Shutdown requested")
			return
		case <-ticker.C:
			m.executeSweepCycle(ctx, s)
		}
	}
}

func (m *SweepManager) executeSweepCycle(ctx context.Context, s *sweep) {
	m.updateSweepStatus(s, "Running", "Starting cycle")

	if err := s.runFunc(ctx); err != nil {
		m.engine.logger.Error("Background sweep cycle failed",
			"sweep", s.sweepType,
			"error", err)
		m.updateSweepStatus(s, "Error", err.Error())
		return
	}

	s.mu.Lock()
	s.status.CycleCount++
	s.mu.Unlock()

	m.updateSweepStatus(s, "Idle", "Waiting for next cycle")
}

// --- Sweep implementations ---

// runUnblockSweep re-checks every blocked task against its blockers.
// This heals tasks whose blockers finished through paths that skipped the
// per-edge unblock check, such as blocker deletion mid-failure.
func (m *SweepManager) runUnblockSweep(ctx context.Context) error {
	blocked, err := m.engine.store.GetTasksByStatus(workflow.StatusBlocked)
	if err != nil {
		return fmt.Errorf("failed to load blocked tasks: %w", err)
	}

	for i := range blocked {
		task := &blocked[i]
		m.updateSweepStatus(m.sweeps[SweepUnblock], "Running", "Checking "+task.TicketRef())
		if err := m.engine.maybeUnblock(task); err != nil {
			m.engine.logger.Warn("Unblock check failed, skipping",
				"task", task.ID, "error", err)
			continue
		}
		if task.Status != workflow.StatusBlocked {
			m.engine.logger.Info("Sweep unblocked task", "task", task.ID, "ticket", task.TicketRef())
			m.clearEscalation(task.ID)
		}
	}
	return nil
}

// runEscalationSweep notifies lead agents about tasks that have sat
// blocked longer than the configured threshold, once per blocked episode.
func (m *SweepManager) runEscalationSweep(ctx context.Context) error {
	threshold := m.engine.config.EscalateBlockedAfter
	if threshold <= 0 {
		return nil
	}

	blocked, err := m.engine.store.GetTasksByStatus(workflow.StatusBlocked)
	if err != nil {
		return fmt.Errorf("failed to load blocked tasks: %w", err)
	}
	m.pruneEscalations(blocked)
	if len(blocked) == 0 {
		return nil
	}

	agents, err := m.engine.store.GetAllAgents()
	if err != nil {
		return fmt.Errorf("failed to load agent roster: %w", err)
	}
	var leads []string
	for i := range agents {
		if agents[i].IsLead {
			leads = append(leads, agents[i].ID)
		}
	}
	if len(leads) == 0 {
		return nil
	}

	now := time.Now()
	for i := range blocked {
		task := &blocked[i]
		if now.Sub(task.UpdatedAt) < threshold {
			continue
		}
		if m.alreadyEscalated(task.ID) {
			continue
		}

		m.updateSweepStatus(m.sweeps[SweepEscalation], "Running", "Escalating "+task.TicketRef())
		for _, lead := range leads {
			m.engine.notify(lead, workflow.NotifyEscalation,
				fmt.Sprintf("%s has been blocked for over %s: %s", task.TicketRef(), threshold, task.Title),
				task.ID, "")
		}
		m.markEscalated(task.ID)
		m.engine.logger.Warn("Escalated long-blocked task",
			"task", task.ID, "ticket", task.TicketRef(), "blockedFor", now.Sub(task.UpdatedAt))
	}
	return nil
}

// runExpirySweep deletes notifications past their expiry.
func (m *SweepManager) runExpirySweep(ctx context.Context) error {
	deleted, err := m.engine.store.DeleteExpiredNotifications(time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	if deleted > 0 {
		m.engine.logger.Info("Expired notifications removed", "count", deleted)
	}
	return nil
}

// runAutoAssignSweep picks up unassigned backlog tasks. Sweep cycles
// share the system actor's rate budget; an exhausted window skips the
// cycle quietly rather than failing it.
func (m *SweepManager) runAutoAssignSweep(ctx context.Context) error {
	if m.engine.config.RateMaxCalls > 0 {
		key := workflow.RateLimitKey("autoAssignSweep", workflow.SystemActor())
		if !m.engine.limiter.CheckSilent(key, m.engine.config.RateMaxCalls, m.engine.config.RateWindow) {
			return nil
		}
	}

	results, err := m.engine.AutoAssignBacklog(10)
	if err != nil {
		return fmt.Errorf("auto-assign sweep failed: %w", err)
	}
	if len(results) > 0 {
		m.engine.logger.Info("Auto-assigned backlog tasks", "count", len(results))
	}
	return nil
}

func (m *SweepManager) alreadyEscalated(taskID string) bool {
	m.escMu.Lock()
	defer m.escMu.Unlock()
	return m.escalated[taskID]
}

func (m *SweepManager) markEscalated(taskID string) {
	m.escMu.Lock()
	defer m.escMu.Unlock()
	m.escalated[taskID] = true
}

func (m *SweepManager) clearEscalation(taskID string) {
	m.escMu.Lock()
	defer m.escMu.Unlock()
	delete(m.escalated, taskID)
}

// pruneEscalations drops flags for tasks no longer blocked, ending their
// escalation episode regardless of how they got unblocked.
func (m *SweepManager) pruneEscalations(blocked []workflow.Task) {
	still := make(map[string]bool, len(blocked))
	for i := range blocked {
		still[blocked[i].ID] = true
	}
	m.escMu.Lock()
	defer m.escMu.Unlock()
	for id := range m.escalated {
		if !still[id] {
			delete(m.escalated, id)
		}
	}
}
