// Package service implements the Service Manager: lifecycle control over
// one Discovery Orchestrator and one Analysis Orchestrator, exposed as
// the imperative operations an outer HTTP surface calls into.
//
// Grounded on original_source/api_server/src/service_manager.rs's
// ServiceManager (state enum, ServiceStats, idempotent start/stop),
// translated to a sync.Mutex-guarded struct in the teacher's
// lock-guarded-fields idiom (internal/trading/position.go).
package service

import (
	"context"
	"time"

	"wallet-pnl-analyzer/internal/analysis"
	"wallet-pnl-analyzer/internal/discovery"
)

// Stats is the combined snapshot GetStats returns.
type Stats struct {
	Discovery discovery.Stats `json:"discovery"`
	Analysis  analysis.Stats  `json:"analysis"`
}

// Manager owns one discovery and one analysis orchestrator and provides
// the start/stop/trigger surface spec.md §4.I calls for.
type Manager struct {
	discoveryOrch *discovery.Orchestrator
	analysisOrch  *analysis.Orchestrator
	stopTimeout   time.Duration
}

// New builds a Manager over already-constructed orchestrators.
func New(d *discovery.Orchestrator, a *analysis.Orchestrator, stopTimeout time.Duration) *Manager {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Manager{discoveryOrch: d, analysisOrch: a, stopTimeout: stopTimeout}
}

// StartDiscovery is a no-op returning the current state if the discovery
// loop is already running.
func (m *Manager) StartDiscovery(ctx context.Context) discovery.State {
	return m.discoveryOrch.Start(ctx)
}

// StopDiscovery blocks until the discovery loop reports Stopped or the
// manager's stop timeout elapses.
func (m *Manager) StopDiscovery(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()
	return m.discoveryOrch.Stop(stopCtx)
}

// StartAnalysis is a no-op returning the current state if the analysis
// worker pool is already running.
func (m *Manager) StartAnalysis(ctx context.Context) analysis.State {
	return m.analysisOrch.Start(ctx)
}

// StopAnalysis blocks until every analysis worker has exited or the
// manager's stop timeout elapses.
func (m *Manager) StopAnalysis(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()
	return m.analysisOrch.Stop(stopCtx)
}

// TriggerOneCycle runs a single discovery cycle synchronously,
// independent of whether the discovery loop is currently running.
func (m *Manager) TriggerOneCycle(ctx context.Context) error {
	return m.discoveryOrch.ExecuteCycle(ctx)
}

// GetStats returns a combined snapshot of both orchestrators' counters.
func (m *Manager) GetStats() Stats {
	return Stats{
		Discovery: m.discoveryOrch.Stats(),
		Analysis:  m.analysisOrch.Stats(),
	}
}
