// Package scheduler runs periodic bulk syncs across every gateway instance.
// It is a thin cron wrapper: discovery and reconciliation stay in the
// gateway client and the sync service, the scheduler only decides when to
// run and bounds how long a run may take.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/suppdesk/wasync/internal/gateway"
	"github.com/suppdesk/wasync/internal/services"
)

// ErrAlreadyRunning is returned when a sync cycle is requested while a
// previous one is still in flight.
var ErrAlreadyRunning = errors.New("sync cycle already running")

// InstanceLister discovers the integration instances to sync. The concrete
// implementation is the gateway client.
type InstanceLister interface {
	FetchInstances(ctx context.Context) ([]gateway.Instance, error)
}

// Syncer reconciles one instance. The concrete implementation is
// services.SyncService.
type Syncer interface {
	SyncAll(ctx context.Context, instanceID string) (*services.SyncReport, error)
}

// Janitor prunes expired webhook journal rows. The concrete implementation
// is services.IntakeService.
type Janitor interface {
	PurgeExpiredEvents(ctx context.Context) (int64, error)
}

// Scheduler triggers full sync cycles on a cron schedule.
type Scheduler struct {
	Instances InstanceLister
	Sync      Syncer

	// Journal, when set, is purged at the end of every cycle.
	Journal Janitor

	// CycleTimeout bounds one whole cycle across all instances.
	CycleTimeout time.Duration

	cron    *cron.Cron
	running atomic.Bool
}

// New constructs a Scheduler with a default cycle timeout.
func New(instances InstanceLister, syncer Syncer) *Scheduler {
	return &Scheduler{
		Instances:    instances,
		Sync:         syncer,
		CycleTimeout: 10 * time.Minute,
	}
}

// Start registers the cron entry and launches the scheduler goroutine.
// spec is a standard five-field cron expression, e.g. "*/15 * * * *".
func (s *Scheduler) Start(spec string) error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunCycle(context.Background()); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.Error().Err(err).Msg("scheduled sync cycle failed")
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	log.Info().Str("schedule", spec).Msg("sync scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// CycleReport summarizes one scheduler pass over all instances.
type CycleReport struct {
	Instances []services.SyncReport `json:"instances"`
	Skipped   []string              `json:"skipped,omitempty"`
}

// RunCycle syncs every discovered instance once. Instances that are not in
// a connected state are skipped. One failing instance does not stop the
// cycle; its error is logged and the next instance is attempted.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	timeout := s.CycleTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	instances, err := s.Instances.FetchInstances(ctx)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{}
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if inst.ConnectionState != "" && inst.ConnectionState != "open" {
			log.Debug().Str("instance_id", inst.ID).Str("state", inst.ConnectionState).Msg("skipping disconnected instance")
			report.Skipped = append(report.Skipped, inst.ID)
			continue
		}

		r, err := s.Sync.SyncAll(ctx, inst.ID)
		if err != nil {
			log.Error().Str("instance_id", inst.ID).Err(err).Msg("instance sync failed")
			report.Skipped = append(report.Skipped, inst.ID)
			continue
		}
		report.Instances = append(report.Instances, *r)
	}

	if s.Journal != nil {
		if n, err := s.Journal.PurgeExpiredEvents(ctx); err != nil {
			log.Warn().Err(err).Msg("webhook journal purge failed")
		} else if n > 0 {
			log.Debug().Int64("rows", n).Msg("webhook journal purged")
		}
	}
	return report, nil
}
