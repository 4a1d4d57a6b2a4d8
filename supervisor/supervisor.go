// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Garrettjson/flip-disc/lib/clock"
)

// Status is a producer lifecycle state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusRestarting Status = "restarting"
)

// Defaults for the liveness policy.
const (
	DefaultSweepInterval    = 2 * time.Second
	DefaultHeartbeatTimeout = 10 * time.Second
	DefaultCommandTimeout   = 2 * time.Second
	DefaultBackoffInitial   = time.Second
	DefaultBackoffCeiling   = 30 * time.Second
	DefaultRestartBudget    = 5
	DefaultBudgetWindow     = 60 * time.Second
)

// Policy bounds the supervisor's liveness enforcement.
type Policy struct {
	// SweepInterval is how often liveness is checked.
	SweepInterval time.Duration
	// HeartbeatTimeout is the silence after which a running producer
	// is restarted.
	HeartbeatTimeout time.Duration
	// CommandTimeout bounds runner Start/Stop calls; an overrunning
	// stop escalates to forced termination.
	CommandTimeout time.Duration
	// BackoffInitial and BackoffCeiling shape the exponential restart
	// backoff.
	BackoffInitial time.Duration
	BackoffCeiling time.Duration
	// RestartBudget restart attempts within BudgetWindow park the
	// producer in the stopped state.
	RestartBudget int
	BudgetWindow  time.Duration
}

// DefaultPolicy returns the standard liveness policy.
func DefaultPolicy() Policy {
	return Policy{
		SweepInterval:    DefaultSweepInterval,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		CommandTimeout:   DefaultCommandTimeout,
		BackoffInitial:   DefaultBackoffInitial,
		BackoffCeiling:   DefaultBackoffCeiling,
		RestartBudget:    DefaultRestartBudget,
		BudgetWindow:     DefaultBudgetWindow,
	}
}

// Runner is a local producer task the supervisor can start and stop.
// Both calls are bounded by the command timeout; a Stop that exceeds
// it is treated as a forced termination.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Record is a producer's supervision state as reported to the control
// plane.
type Record struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RestartCount  int       `json:"restart_count"`
	LastError     string    `json:"last_error,omitempty"`
	// RunID changes on every start, correlating log lines of one
	// producer incarnation.
	RunID string `json:"run_id,omitempty"`
}

// producer pairs a record with its runner and restart bookkeeping.
type producer struct {
	record        Record
	runner        Runner
	backoff       time.Duration
	nextRestartAt time.Time
	restartTimes  []time.Time
}

// Supervisor watches registered producers and enforces the restart
// policy.
type Supervisor struct {
	clock  clock.Clock
	logger *slog.Logger
	policy Policy

	// OnChange, when set before Run, is called (with no locks held)
	// after every status transition. The control plane uses it to
	// emit edge-triggered stats snapshots.
	OnChange func(id string, status Status)

	mu        sync.Mutex
	producers map[string]*producer
}

// New returns a supervisor with the default policy.
func New(clk clock.Clock, logger *slog.Logger) *Supervisor {
	return NewWithPolicy(clk, logger, DefaultPolicy())
}

// NewWithPolicy returns a supervisor with an explicit policy.
func NewWithPolicy(clk clock.Clock, logger *slog.Logger, policy Policy) *Supervisor {
	return &Supervisor{
		clock:     clk,
		logger:    logger.With("component", "supervisor"),
		policy:    policy,
		producers: make(map[string]*producer),
	}
}

// Register adds a local producer task in the stopped state. Call
// Start to launch it.
func (s *Supervisor) Register(id string, runner Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.producers[id]; exists {
		return fmt.Errorf("supervisor: producer %q already registered", id)
	}
	s.producers[id] = &producer{
		record: Record{ID: id, Status: StatusStopped},
		runner: runner,
	}
	return nil
}

// Start launches a registered producer. The start call is bounded by
// the command timeout.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	p, exists := s.producers[id]
	if !exists || p.runner == nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: no runner registered for %q", id)
	}
	if p.record.Status == StatusRunning {
		s.mu.Unlock()
		return nil
	}
	runner := p.runner
	s.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, s.policy.CommandTimeout)
	err := runner.Start(startCtx)
	cancel()
	if err != nil {
		s.setStatus(id, StatusStopped, fmt.Sprintf("start failed: %v", err))
		return fmt.Errorf("starting producer %q: %w", id, err)
	}

	s.mu.Lock()
	p.record.Status = StatusRunning
	p.record.LastError = ""
	p.record.RunID = uuid.NewString()
	p.record.LastHeartbeat = s.clock.Now()
	p.backoff = 0
	runID := p.record.RunID
	s.mu.Unlock()

	s.logger.Info("producer started", "producer", id, "run_id", runID)
	s.notify(id, StatusRunning)
	return nil
}

// Stop halts a producer and clears its restart bookkeeping. An
// explicit stop is not a failure: the record stays, parked in the
// stopped state with no error.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	p, exists := s.producers[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: unknown producer %q", id)
	}
	runner := p.runner
	s.mu.Unlock()

	if runner != nil {
		s.stopRunner(ctx, id, runner)
	}

	s.mu.Lock()
	p.record.Status = StatusStopped
	p.record.LastError = ""
	p.backoff = 0
	p.restartTimes = nil
	s.mu.Unlock()

	s.logger.Info("producer stopped", "producer", id)
	s.notify(id, StatusStopped)
	return nil
}

// stopRunner issues a bounded stop. Exceeding the command timeout
// escalates to forced termination, which for a cooperative task means
// abandoning it: the context is canceled and the supervisor moves on.
func (s *Supervisor) stopRunner(ctx context.Context, id string, runner Runner) {
	stopCtx, cancel := context.WithTimeout(ctx, s.policy.CommandTimeout)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		s.logger.Warn("producer stop forced", "producer", id, "error", err)
	}
}

// RecordHeartbeat notes producer liveness. Unknown producers get a
// record on first observation (remote producers are never
// registered).
func (s *Supervisor) RecordHeartbeat(producerID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.producers[producerID]
	if !exists {
		p = &producer{record: Record{ID: producerID, Status: StatusRunning}}
		s.producers[producerID] = p
	}
	p.record.LastHeartbeat = at
}

// Records returns all producer records, sorted by ID.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.producers))
	for _, p := range s.producers {
		records = append(records, p.record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Record returns one producer's record.
func (s *Supervisor) Record(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.producers[id]
	if !exists {
		return Record{}, false
	}
	return p.record, true
}

// Run sweeps producer liveness until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep checks every supervised producer once: running producers with
// stale heartbeats enter the restart flow; restarting producers whose
// backoff elapsed are started again.
func (s *Supervisor) sweep(ctx context.Context) {
	now := s.clock.Now()

	type action struct {
		id     string
		runner Runner
		start  bool
	}
	var actions []action

	s.mu.Lock()
	for id, p := range s.producers {
		if p.runner == nil {
			continue
		}
		switch p.record.Status {
		case StatusRunning:
			if now.Sub(p.record.LastHeartbeat) <= s.policy.HeartbeatTimeout {
				continue
			}
			if !s.withinBudgetLocked(p, now) {
				p.record.Status = StatusStopped
				p.record.LastError = "exceeded restart budget"
				s.logger.Error("producer exceeded restart budget", "producer", id)
				actions = append(actions, action{id: id, runner: p.runner})
				continue
			}
			if p.backoff == 0 {
				p.backoff = s.policy.BackoffInitial
			} else {
				p.backoff *= 2
				if p.backoff > s.policy.BackoffCeiling {
					p.backoff = s.policy.BackoffCeiling
				}
			}
			p.record.Status = StatusRestarting
			p.record.LastError = "heartbeat timeout"
			p.nextRestartAt = now.Add(p.backoff)
			p.restartTimes = append(p.restartTimes, now)
			s.logger.Warn("producer heartbeat timed out, restarting",
				"producer", id, "backoff", p.backoff)
			actions = append(actions, action{id: id, runner: p.runner})
		case StatusRestarting:
			if now.Before(p.nextRestartAt) {
				continue
			}
			actions = append(actions, action{id: id, start: true})
		}
	}
	s.mu.Unlock()

	for _, a := range actions {
		if a.start {
			s.restart(ctx, a.id)
			continue
		}
		if a.runner != nil {
			s.stopRunner(ctx, a.id, a.runner)
		}
		s.mu.Lock()
		status := s.producers[a.id].record.Status
		s.mu.Unlock()
		s.notify(a.id, status)
	}
}

// withinBudgetLocked reports whether another restart fits the budget
// window, pruning expired entries. Called with mu held.
func (s *Supervisor) withinBudgetLocked(p *producer, now time.Time) bool {
	kept := p.restartTimes[:0]
	for _, at := range p.restartTimes {
		if now.Sub(at) < s.policy.BudgetWindow {
			kept = append(kept, at)
		}
	}
	p.restartTimes = kept
	return len(p.restartTimes) < s.policy.RestartBudget
}

// restart performs the start half of a restart cycle.
func (s *Supervisor) restart(ctx context.Context, id string) {
	s.mu.Lock()
	p, exists := s.producers[id]
	if !exists || p.record.Status != StatusRestarting {
		s.mu.Unlock()
		return
	}
	runner := p.runner
	s.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, s.policy.CommandTimeout)
	err := runner.Start(startCtx)
	cancel()

	s.mu.Lock()
	if err != nil {
		// Stay in restarting; the next sweep after backoff retries.
		p.record.LastError = fmt.Sprintf("restart failed: %v", err)
		p.nextRestartAt = s.clock.Now().Add(p.backoff)
		s.mu.Unlock()
		s.logger.Error("producer restart failed", "producer", id, "error", err)
		return
	}
	p.record.Status = StatusRunning
	p.record.LastError = ""
	p.record.RestartCount++
	p.record.RunID = uuid.NewString()
	p.record.LastHeartbeat = s.clock.Now()
	restarts := p.record.RestartCount
	s.mu.Unlock()

	s.logger.Info("producer restarted", "producer", id, "restarts", restarts)
	s.notify(id, StatusRunning)
}

// setStatus updates one record outside the sweep path.
func (s *Supervisor) setStatus(id string, status Status, lastError string) {
	s.mu.Lock()
	if p, exists := s.producers[id]; exists {
		p.record.Status = status
		p.record.LastError = lastError
	}
	s.mu.Unlock()
	s.notify(id, status)
}

func (s *Supervisor) notify(id string, status Status) {
	if s.OnChange != nil {
		s.OnChange(id, status)
	}
}
