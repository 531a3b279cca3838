package gates

import (
	"context"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// JobVeto stops scheduled jobs from firing while the server is suspended.
// Vetoed firings are not queued; the job runs again at its next firing
// after the server resumes.
type JobVeto struct {
	modes ModeReader
	log   logger.Logger
}

// NewJobVeto returns a scheduler.TriggerListener backed by modes.
func NewJobVeto(modes ModeReader, log logger.Logger) *JobVeto {
	return &JobVeto{modes: modes, log: log}
}

// VetoJobExecution implements scheduler.TriggerListener.
func (v *JobVeto) VetoJobExecution(ctx context.Context, job string) bool {
	if v.modes.Current(ctx).Mode == models.ModeSuspend {
		v.log.DebugContext(ctx, "suspend mode detected, vetoing job", "job", job)
		return true
	}
	return false
}

// ModeChanged logs scheduler pause and resume as the mode flips.
func (v *JobVeto) ModeChanged(ctx context.Context, _ models.Mode, current models.ModeRecord) {
	if current.Mode == models.ModeSuspend {
		v.log.WarnContext(ctx, "scheduler: jobs paused", "reason", current.Reason)
		return
	}
	v.log.InfoContext(ctx, "scheduler: jobs resumed")
}
