/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package leadflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriphiel-hr/leadflow/config"
	redlock "github.com/oriphiel-hr/leadflow/internal/lock"
	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/sirupsen/logrus"
)

// Sweep kinds run by the SLA scheduler.
const (
	SweepExpiry   = "expiry"
	SweepReminder = "reminder"
	SweepRequeue  = "requeue"
	SweepRefund   = "auto_refund"
	SweepScores   = "scores"
)

var sweepKinds = []string{SweepExpiry, SweepReminder, SweepRequeue, SweepRefund, SweepScores}

// SweepHealth is the operational signal of one sweep kind.
type SweepHealth struct {
	Kind           string     `json:"kind"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	LastDuration   string     `json:"last_duration,omitempty"`
	Processed      int        `json:"processed"`
	Failed         int        `json:"failed"`
	TotalProcessed int64      `json:"total_processed"`
	LastError      string     `json:"last_error,omitempty"`
}

type SchedulerHealth struct {
	Running bool                   `json:"running"`
	Sweeps  map[string]SweepHealth `json:"sweeps"`
}

// SLAScheduler turns deadlines stored on assignments into transitions. Every action
// re-checks state through a versioned write, so overlapping runs, on this replica or
// another, skip rows that were already handled.
type SLAScheduler struct {
	leadflow         *Leadflow
	batchSize        int
	maxWorkers       int
	reminderFraction float64
	sweepInterval    time.Duration
	refundInterval   time.Duration
	scoreInterval    time.Duration
	contactWindow    time.Duration
	useLease         bool
	holder           string
	stopCh           chan struct{}
	wg               sync.WaitGroup
	running          bool
	mu               sync.Mutex

	healthMu sync.RWMutex
	health   map[string]*SweepHealth
}

func NewSLAScheduler(l *Leadflow) *SLAScheduler {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Warnf("scheduler using built-in defaults: %v", err)
		cfg = &config.Configuration{}
		cfg.Scheduler = config.SchedulerConfig{
			SweepIntervalSec:     3600,
			RefundIntervalSec:    86400,
			ScoreIntervalSec:     3600,
			ContactWindowMinutes: 48 * 60,
			ReminderFraction:     0.5,
			BatchSize:            500,
			MaxWorkers:           10,
		}
	}

	health := make(map[string]*SweepHealth, len(sweepKinds))
	for _, kind := range sweepKinds {
		health[kind] = &SweepHealth{Kind: kind}
	}
	return &SLAScheduler{
		leadflow:         l,
		batchSize:        cfg.Scheduler.BatchSize,
		maxWorkers:       cfg.Scheduler.MaxWorkers,
		reminderFraction: cfg.Scheduler.ReminderFraction,
		sweepInterval:    cfg.Scheduler.SweepInterval(),
		refundInterval:   cfg.Scheduler.RefundInterval(),
		scoreInterval:    cfg.Scheduler.ScoreInterval(),
		contactWindow:    cfg.Scheduler.ContactWindow(),
		useLease:         cfg.Scheduler.UseLease && l.redis != nil,
		holder:           model.GenerateUUIDWithSuffix("scheduler"),
		stopCh:           make(chan struct{}),
		health:           health,
	}
}

func (p *SLAScheduler) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"sweep_interval":  p.sweepInterval,
		"refund_interval": p.refundInterval,
		"score_interval":  p.scoreInterval,
	}).Info("SLA scheduler started")
}

func (p *SLAScheduler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("SLA scheduler stopped")
}

func (p *SLAScheduler) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SLAScheduler) run(ctx context.Context) {
	sweep := time.NewTicker(p.sweepInterval)
	defer sweep.Stop()
	refund := time.NewTicker(p.refundInterval)
	defer refund.Stop()
	scores := time.NewTicker(p.scoreInterval)
	defer scores.Stop()

	// deadlines that passed while nothing was running are due now
	p.runTimeSweeps(ctx)

	for {
		select {
		case <-ctx.Done():
			logrus.Info("SLA scheduler context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("SLA scheduler stop signal received")
			return
		case <-sweep.C:
			p.runTimeSweeps(ctx)
		case <-refund.C:
			p.logRun(p.RunSweep(ctx, SweepRefund))
		case <-scores.C:
			p.logRun(p.RunSweep(ctx, SweepScores))
		}
	}
}

func (p *SLAScheduler) runTimeSweeps(ctx context.Context) {
	for _, kind := range []string{SweepExpiry, SweepReminder, SweepRequeue} {
		p.logRun(p.RunSweep(ctx, kind))
	}
}

func (p *SLAScheduler) logRun(processed int, err error) {
	if err != nil && !errors.Is(err, redlock.ErrLeaseHeld) {
		logrus.Errorf("scheduler sweep failed after %d rows: %v", processed, err)
	}
}

// RunSweep runs one sweep immediately and returns how many rows it handled. When leases
// are enabled and another replica holds this kind, it returns redlock.ErrLeaseHeld.
func (p *SLAScheduler) RunSweep(ctx context.Context, kind string) (int, error) {
	var sweep func(context.Context) (int, int, error)
	switch kind {
	case SweepExpiry:
		sweep = p.sweepExpired
	case SweepReminder:
		sweep = p.sweepReminders
	case SweepRequeue:
		sweep = p.sweepRequeue
	case SweepRefund:
		sweep = p.sweepRefunds
	case SweepScores:
		sweep = p.sweepScores
	default:
		return 0, fmt.Errorf("unknown sweep kind: %s", kind)
	}

	var processed, failed int
	body := func(ctx context.Context) error {
		started := time.Now()
		var err error
		processed, failed, err = sweep(ctx)
		p.record(kind, started, processed, failed, err)
		return err
	}

	if !p.useLease {
		err := body(ctx)
		return processed, err
	}
	lease := redlock.NewLease(p.leadflow.redis, "leadflow:scheduler:"+kind, p.holder)
	err := lease.Run(ctx, p.leaseTTL(kind), body)
	if errors.Is(err, redlock.ErrLeaseHeld) {
		logrus.WithField("sweep", kind).Debug("sweep skipped, lease held by another replica")
	}
	return processed, err
}

func (p *SLAScheduler) leaseTTL(kind string) time.Duration {
	switch kind {
	case SweepRefund:
		return p.refundInterval
	case SweepScores:
		return p.scoreInterval
	default:
		return p.sweepInterval
	}
}

func (p *SLAScheduler) record(kind string, started time.Time, processed, failed int, err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	h := p.health[kind]
	at := started.UTC()
	h.LastRun = &at
	h.LastDuration = time.Since(started).Round(time.Millisecond).String()
	h.Processed = processed
	h.Failed = failed
	h.TotalProcessed += int64(processed)
	h.LastError = ""
	if err != nil {
		h.LastError = err.Error()
	}
}

// Health reports the last run of every sweep kind.
func (p *SLAScheduler) Health() SchedulerHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	out := SchedulerHealth{Running: p.IsRunning(), Sweeps: make(map[string]SweepHealth, len(p.health))}
	for kind, h := range p.health {
		out.Sweeps[kind] = *h
	}
	return out
}

// forEach runs fn over items with at most maxWorkers in flight.
func (p *SLAScheduler) forEach(ctx context.Context, kind string, items []*model.QueueAssignment, fn func(context.Context, *model.QueueAssignment) (bool, error)) (int, int) {
	if len(items) == 0 {
		return 0, 0
	}
	logrus.Infof("Processing %d %s rows with %d workers", len(items), kind, p.maxWorkers)

	var processed, failed int64
	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup
	for _, item := range items {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(a *model.QueueAssignment) {
			defer batchWg.Done()
			defer func() { <-sem }()
			done, err := fn(ctx, a)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				logrus.Errorf("%s sweep failed for assignment %s: %v", kind, a.AssignmentID, err)
				return
			}
			if done {
				atomic.AddInt64(&processed, 1)
			}
		}(item)
	}
	batchWg.Wait()
	return int(processed), int(failed)
}

func (p *SLAScheduler) sweepExpired(ctx context.Context) (int, int, error) {
	overdue, err := p.leadflow.datasource.GetExpiredOffers(ctx, p.leadflow.now(), p.batchSize)
	if err != nil {
		return 0, 0, err
	}
	processed, failed := p.forEach(ctx, SweepExpiry, overdue, p.leadflow.ExpireOffer)
	return processed, failed, nil
}

func (p *SLAScheduler) sweepReminders(ctx context.Context) (int, int, error) {
	due, err := p.leadflow.datasource.GetReminderCandidates(ctx, p.leadflow.now(), p.reminderFraction, p.batchSize)
	if err != nil {
		return 0, 0, err
	}
	processed, failed := p.forEach(ctx, SweepReminder, due, p.leadflow.RemindOffer)
	return processed, failed, nil
}

func (p *SLAScheduler) sweepRefunds(ctx context.Context) (int, int, error) {
	cutoff := p.leadflow.now().Add(-p.contactWindow)
	silent, err := p.leadflow.datasource.GetRefundableAcceptances(ctx, cutoff, p.contactWindow, p.batchSize)
	if err != nil {
		return 0, 0, err
	}
	processed, failed := p.forEach(ctx, SweepRefund, silent, func(ctx context.Context, a *model.QueueAssignment) (bool, error) {
		if _, err := p.leadflow.RefundAssignment(ctx, a.AssignmentID, model.TxnAutoRefund); err != nil {
			if errors.Is(err, ErrNotRefundable) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	return processed, failed, nil
}

// sweepRequeue advances WAITING leads that lost their advance to a failure after the
// transition that released them.
func (p *SLAScheduler) sweepRequeue(ctx context.Context) (int, int, error) {
	waiting, err := p.leadflow.datasource.GetLeadsByStatus(ctx, model.LeadWaiting, p.batchSize, 0)
	if err != nil {
		return 0, 0, err
	}
	processed, failed := 0, 0
	for _, lead := range waiting {
		if _, err := p.leadflow.Advance(ctx, lead.LeadID); err != nil {
			failed++
			logrus.WithError(err).WithField("lead_id", lead.LeadID).Warn("requeue advance failed")
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (p *SLAScheduler) sweepScores(ctx context.Context) (int, int, error) {
	written, err := p.leadflow.RecomputePartnerScores(ctx)
	if err != nil {
		return written, 1, err
	}
	return written, 0, nil
}

// ExpireOffer closes an offer whose deadline passed and moves the lead on. It reports
// false when the offer was not due or someone else already moved it.
func (l *Leadflow) ExpireOffer(ctx context.Context, a *model.QueueAssignment) (bool, error) {
	ctx, span := tracer.Start(ctx, "ExpireOffer")
	defer span.End()

	if !a.IsOverdue(l.now()) {
		return false, nil
	}
	lead, err := l.datasource.GetLead(ctx, a.LeadID)
	if err != nil {
		return false, err
	}

	next := *a
	next.Status = model.AssignmentExpired
	next.Note = "no response before deadline"
	nextLead := cloneLead(lead)
	if nextLead.Status == model.LeadOffered {
		nextLead.Status = model.LeadWaiting
	}
	if err := l.datasource.TransitionAssignment(ctx, &next, model.AssignmentOffered, nextLead); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}

	logrus.WithFields(logrus.Fields{"lead_id": a.LeadID, "partner_id": a.PartnerID}).Info("offer expired")
	l.notifier.Notify(ctx, EventLeadExpired, &next)
	l.index(ctx, search.CollectionAssignments, next.AssignmentID, &next)

	l.refundOrphanPurchase(ctx, a)
	l.advanceQuietly(ctx, a.LeadID)
	return true, nil
}

// RemindOffer sends the one reminder an open offer gets once enough of its window passed.
func (l *Leadflow) RemindOffer(ctx context.Context, a *model.QueueAssignment) (bool, error) {
	if err := l.datasource.MarkReminded(ctx, a, l.now()); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}
	l.notifier.Notify(ctx, EventLeadReminder, a)
	return true, nil
}
