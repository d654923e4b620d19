// Package scheduler runs the background housekeeping jobs: availability
// counter reconciliation and the stale bed-hold sweep. Jobs coordinate
// through a mongo-backed lock so that only one instance of the service runs
// a given job at a time.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/dispatch"
	"github.com/medready/hospital-bed-api/models"
)

// Scheduler handles periodic background jobs for the allocation core
type Scheduler struct {
	cron       *cron.Cron
	HDB        databases.HospitalDatabase
	EDB        databases.EmergencyDatabase
	LockDB     databases.SchedulerLockDatabase
	Allocation *allocation.Service
	Dispatch   *dispatch.Service
	HoldTTL    time.Duration
	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	hDB databases.HospitalDatabase,
	eDB databases.EmergencyDatabase,
	lockDB databases.SchedulerLockDatabase,
	allocationService *allocation.Service,
	dispatchService *dispatch.Service,
	holdTTL time.Duration,
) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO")
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		HDB:        hDB,
		EDB:        eDB,
		LockDB:     lockDB,
		Allocation: allocationService,
		Dispatch:   dispatchService,
		HoldTTL:    holdTTL,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Repair availability counter drift every 15 minutes
	_, err := s.cron.AddFunc("*/15 * * * *", s.reconcileCounters)
	if err != nil {
		zap.S().Errorw("failed to register reconcile job", "error", err)
	}

	// Sweep expired bed holds every minute
	_, err = s.cron.AddFunc("* * * * *", s.sweepExpiredHolds)
	if err != nil {
		zap.S().Errorw("failed to register hold sweep job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Bed allocation scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Bed allocation scheduler stopped")
}

// reconcileCounters recomputes every active hospital's availableBeds
// counters from the bed records. Bed status is the source of truth; the
// counters are a cache that can only drift if an operational bug slipped
// past the transactional pairing, so any correction here is worth a warning.
func (s *Scheduler) reconcileCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "reconcile_counters_job", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for reconcile job", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Reconcile job already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "reconcile_counters_job", s.instanceID)

	hospitals, err := s.HDB.Find(ctx, bson.M{"hospital.isActive": true})
	if err != nil {
		zap.S().Errorw("failed to list hospitals for reconciliation", "error", err)
		return
	}

	repaired := 0
	for _, hospital := range hospitals {
		corrections, err := s.Allocation.Reconcile(ctx, hospital.ID)
		if err != nil {
			zap.S().Errorw("failed to reconcile hospital counters",
				"hospitalId", hospital.ID.Hex(),
				"error", err,
			)
			continue
		}
		if len(corrections) > 0 {
			repaired++
		}
	}

	zap.S().Infow("Counter reconciliation complete",
		"hospitalsChecked", len(hospitals),
		"hospitalsRepaired", repaired,
	)
}

// sweepExpiredHolds reverts requests stuck in hospital_assigned past the
// hold TTL: the reserved bed goes back to available and the request returns
// to pending so it can be assigned elsewhere.
func (s *Scheduler) sweepExpiredHolds() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "hold_sweep_job", s.instanceID, 2*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for hold sweep job", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Hold sweep job already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "hold_sweep_job", s.instanceID)

	cutoff := time.Now().Add(-s.HoldTTL)
	expired, err := s.EDB.Find(ctx, bson.M{
		"emergencyRequest.status":     models.RequestStatusHospitalAssigned,
		"emergencyRequest.assignedAt": bson.M{"$lt": primitive.NewDateTimeFromTime(cutoff)},
	})
	if err != nil {
		zap.S().Errorw("failed to find expired holds", "error", err)
		return
	}

	reverted := 0
	for _, request := range expired {
		if err := s.Dispatch.RevertExpiredHold(ctx, request); err != nil {
			zap.S().Errorw("failed to revert expired hold",
				"requestId", request.ID.Hex(),
				"error", err,
			)
			continue
		}
		reverted++
	}

	if len(expired) > 0 {
		zap.S().Infow("Expired hold sweep complete",
			"expiredFound", len(expired),
			"reverted", reverted,
		)
	}
}
