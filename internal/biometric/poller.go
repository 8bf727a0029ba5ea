package biometric

import (
	"context"
	"log/slog"
	"time"

	"intake/internal/registration/models"
	"intake/pkg/domain"
)

// ProgramLister finds programs with in-flight biometric runs.
type ProgramLister interface {
	ListProgramIDsWithEngineStatus(ctx context.Context, statuses ...models.EngineStatus) ([]domain.ProgramID, error)
}

// Poller periodically reconciles in-flight biometric runs, covering lost
// webhook notifications.
type Poller struct {
	service  *Service
	imports  ProgramLister
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(service *Service, imports ProgramLister, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{service: service, imports: imports, interval: interval, logger: logger}
}

// Run blocks until ctx is done, polling every interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	programs, err := p.imports.ListProgramIDsWithEngineStatus(ctx,
		models.EngineStatusInProgress, models.EngineStatusProcessing, models.EngineStatusUploaded)
	if err != nil {
		p.logger.Error("list in-flight biometric programs", "error", err)
		return
	}
	for _, programID := range programs {
		if err := p.service.FetchResultsAndProcess(ctx, programID); err != nil {
			p.logger.Error("reconcile biometric run", "program_id", programID, "error", err)
		}
	}
}
