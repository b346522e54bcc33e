// File: internal/provider/probe.go
package provider

import "context"

// ProbePipeline adapts the manager's probe round to the pipeline scheduler
type ProbePipeline struct {
	manager *Manager
}

// NewProbePipeline creates the health probe pipeline
func NewProbePipeline(manager *Manager) *ProbePipeline {
	return &ProbePipeline{manager: manager}
}

// Name returns the pipeline name
func (p *ProbePipeline) Name() string {
	return "probe"
}

// Run executes one probe round
func (p *ProbePipeline) Run(ctx context.Context) error {
	return p.manager.ProbeAll(ctx)
}
