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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oriphiel-hr/leadflow/config"
	redlock "github.com/oriphiel-hr/leadflow/internal/lock"
	"github.com/oriphiel-hr/leadflow/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweepMovesTheLeadOn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	f.addPartner(t, "P2", 70)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)

	f.clock.Advance(23 * time.Hour)
	processed, err := scheduler.RunSweep(ctx, SweepExpiry)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	f.clock.Advance(time.Hour)
	processed, err = scheduler.RunSweep(ctx, SweepExpiry)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	expired, err := f.ds.GetAssignment(ctx, offer.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentExpired, expired.Status)

	next := f.active(t, offer.LeadID)
	require.NotNil(t, next)
	assert.Equal(t, "P2", next.PartnerID)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), next.ExpiresAt)
	assert.Equal(t, 1, f.notifier.Count(EventLeadExpired))

	// a late answer to the expired offer is stale
	_, err = f.lf.Respond(ctx, offer.AssignmentID, "P1", model.DecisionInterested)
	assert.ErrorIs(t, err, ErrStaleAssignment)
}

func TestExpirySweepRefundsOrphanPurchase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	account := f.fund(t, "P1", 100)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)

	// a debit whose accept never committed
	_, err = f.lf.Debit(ctx, account.AccountID, 15, model.LedgerReference{
		Reference:    offer.AssignmentID,
		LeadID:       offer.LeadID,
		AssignmentID: offer.AssignmentID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(85), f.balance(t, account.AccountID))

	f.clock.Advance(24 * time.Hour)
	processed, err := scheduler.RunSweep(ctx, SweepExpiry)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.Equal(t, int64(100), f.balance(t, account.AccountID))
	txns := f.ds.TransactionsByReference(offer.AssignmentID)
	require.Len(t, txns, 2)
	assert.ElementsMatch(t, []string{model.TxnPurchase, model.TxnRefund}, []string{txns[0].Type, txns[1].Type})
	f.requireConsistent(t, account.AccountID)
}

func TestOrphanPurchaseIsRefundedWhenOfferCloses(t *testing.T) {
	tests := []struct {
		name  string
		close func(f *fixture, offer *model.QueueAssignment) error
		want  string
	}{
		{
			name: "declined",
			close: func(f *fixture, offer *model.QueueAssignment) error {
				_, err := f.lf.Respond(context.Background(), offer.AssignmentID, "P1", model.DecisionNotInterested)
				return err
			},
			want: model.AssignmentDeclined,
		},
		{
			name: "skipped",
			close: func(f *fixture, offer *model.QueueAssignment) error {
				_, err := f.lf.Skip(context.Background(), offer.AssignmentID, "withdrawn by operator")
				return err
			},
			want: model.AssignmentSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			f.addPartner(t, "P1", 90)
			account := f.fund(t, "P1", 100)

			offer, err := f.lf.Enqueue(ctx, newLead(15))
			require.NoError(t, err)

			// a debit whose accept never committed
			_, err = f.lf.Debit(ctx, account.AccountID, 15, model.LedgerReference{
				Reference:    offer.AssignmentID,
				LeadID:       offer.LeadID,
				AssignmentID: offer.AssignmentID,
			})
			require.NoError(t, err)
			require.Equal(t, int64(85), f.balance(t, account.AccountID))

			require.NoError(t, tt.close(f, offer))

			assignment, err := f.ds.GetAssignment(ctx, offer.AssignmentID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, assignment.Status)
			assert.Equal(t, int64(100), f.balance(t, account.AccountID))

			// later sweeps leave the refund alone
			f.clock.Advance(72 * time.Hour)
			scheduler := NewSLAScheduler(f.lf)
			for _, kind := range []string{SweepExpiry, SweepRequeue, SweepRefund} {
				_, err := scheduler.RunSweep(ctx, kind)
				require.NoError(t, err)
			}
			assert.Equal(t, int64(100), f.balance(t, account.AccountID))
			assert.Len(t, f.ds.TransactionsByReference(offer.AssignmentID), 2)
			f.requireConsistent(t, account.AccountID)
		})
	}
}

func TestAutoRefundAfterContactWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	f.addPartner(t, "P2", 70)
	p1 := f.fund(t, "P1", 100)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)
	_, err = f.lf.Respond(ctx, offer.AssignmentID, "P1", model.DecisionInterested)
	require.NoError(t, err)

	f.clock.Advance(47 * time.Hour)
	processed, err := scheduler.RunSweep(ctx, SweepRefund)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	f.clock.Advance(time.Hour)
	processed, err = scheduler.RunSweep(ctx, SweepRefund)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.Equal(t, int64(100), f.balance(t, p1.AccountID))
	refund, err := f.ds.GetTransactionByRef(ctx, offer.AssignmentID, model.RefundTypes...)
	require.NoError(t, err)
	assert.Equal(t, model.TxnAutoRefund, refund.Type)
	assert.Equal(t, int64(15), refund.Amount)
	f.requireConsistent(t, p1.AccountID)

	lead := f.lead(t, offer.LeadID)
	assert.Empty(t, lead.AcceptedBy)
	next := f.active(t, offer.LeadID)
	require.NotNil(t, next)
	assert.Equal(t, "P2", next.PartnerID)

	// the next run finds nothing left to refund
	processed, err = scheduler.RunSweep(ctx, SweepRefund)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Len(t, f.ds.TransactionsByReference(offer.AssignmentID), 2)
}

func TestContactEventPreventsAutoRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	p1 := f.fund(t, "P1", 100)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)
	_, err = f.lf.Respond(ctx, offer.AssignmentID, "P1", model.DecisionInterested)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.lf.RecordContact(ctx, offer.LeadID, "P1", "phone")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	processed, err := scheduler.RunSweep(ctx, SweepRefund)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, int64(85), f.balance(t, p1.AccountID))
	assert.Equal(t, model.LeadAccepted, f.lead(t, offer.LeadID).Status)
}

func TestLateContactDoesNotPreventAutoRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	p1 := f.fund(t, "P1", 100)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)
	_, err = f.lf.Respond(ctx, offer.AssignmentID, "P1", model.DecisionInterested)
	require.NoError(t, err)

	// contact lands after the 48h window has already closed
	f.clock.Advance(60 * time.Hour)
	_, err = f.lf.RecordContact(ctx, offer.LeadID, "P1", "email")
	require.NoError(t, err)

	processed, err := scheduler.RunSweep(ctx, SweepRefund)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, int64(100), f.balance(t, p1.AccountID))
	f.requireConsistent(t, p1.AccountID)
}

func TestReminderIsSentOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	scheduler := NewSLAScheduler(f.lf)

	offer, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)

	f.clock.Advance(11 * time.Hour)
	processed, err := scheduler.RunSweep(ctx, SweepReminder)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	f.clock.Advance(time.Hour)
	processed, err = scheduler.RunSweep(ctx, SweepReminder)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = scheduler.RunSweep(ctx, SweepReminder)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, f.notifier.Count(EventLeadReminder))

	reminded, err := f.ds.GetAssignment(ctx, offer.AssignmentID)
	require.NoError(t, err)
	require.NotNil(t, reminded.RemindedAt)
	assert.Equal(t, f.clock.Now(), *reminded.RemindedAt)
	assert.Equal(t, model.AssignmentOffered, reminded.Status)
}

func TestRequeueSweepAdvancesWaitingLeads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	scheduler := NewSLAScheduler(f.lf)

	lead := newLead(15)
	require.NoError(t, f.ds.CreateLead(ctx, lead))

	processed, err := scheduler.RunSweep(ctx, SweepRequeue)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, model.LeadOffered, f.lead(t, lead.LeadID).Status)

	processed, err = scheduler.RunSweep(ctx, SweepRequeue)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestUnansweredLeadReachesExhaustion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	f.addPartner(t, "P2", 80)
	f.addPartner(t, "P3", 70)
	scheduler := NewSLAScheduler(f.lf)

	lead := newLead(15)
	_, err := f.lf.Enqueue(ctx, lead)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(24 * time.Hour)
		processed, err := scheduler.RunSweep(ctx, SweepExpiry)
		require.NoError(t, err)
		require.Equal(t, 1, processed)
	}

	final := f.lead(t, lead.LeadID)
	assert.Equal(t, model.LeadExhausted, final.Status)
	assert.True(t, final.IsProblematic())
	assert.Equal(t, 0, f.ds.OfferedCount(lead.LeadID))
	assert.Equal(t, 3, f.notifier.Count(EventLeadExpired))
}

func TestScoreSweepRecomputesActivePartners(t *testing.T) {
	f := newFixture(t, nil)
	f.addPartner(t, "P1", 90)
	f.addPartner(t, "P2", 70)
	scheduler := NewSLAScheduler(f.lf)

	processed, err := scheduler.RunSweep(context.Background(), SweepScores)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
}

func TestRunSweepRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := NewSLAScheduler(f.lf).RunSweep(context.Background(), "vacuum")
	assert.Error(t, err)
}

func TestSchedulerHealth(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPartner(t, "P1", 90)
	scheduler := NewSLAScheduler(f.lf)

	_, err := f.lf.Enqueue(ctx, newLead(15))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = scheduler.RunSweep(ctx, SweepExpiry)
	require.NoError(t, err)

	health := scheduler.Health()
	assert.False(t, health.Running)
	assert.Len(t, health.Sweeps, len(sweepKinds))

	expiry := health.Sweeps[SweepExpiry]
	require.NotNil(t, expiry.LastRun)
	assert.Equal(t, 1, expiry.Processed)
	assert.Equal(t, int64(1), expiry.TotalProcessed)
	assert.Empty(t, expiry.LastError)
	assert.Nil(t, health.Sweeps[SweepRefund].LastRun)
}

func TestSweepSkippedWhileLeaseHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFixture(t, func(c *config.Configuration) { c.Scheduler.UseLease = true })
	f.lf = New(f.ds, WithNotifier(f.notifier), WithClock(f.clock.Now), WithRedis(client))
	scheduler := NewSLAScheduler(f.lf)

	require.NoError(t, mr.Set("leadflow:scheduler:expiry", "another-replica"))
	_, err := scheduler.RunSweep(context.Background(), SweepExpiry)
	assert.ErrorIs(t, err, redlock.ErrLeaseHeld)
	assert.Nil(t, scheduler.Health().Sweeps[SweepExpiry].LastRun)

	mr.Del("leadflow:scheduler:expiry")
	_, err = scheduler.RunSweep(context.Background(), SweepExpiry)
	require.NoError(t, err)
	assert.NotNil(t, scheduler.Health().Sweeps[SweepExpiry].LastRun)
	assert.False(t, mr.Exists("leadflow:scheduler:expiry"))
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t, nil)
	scheduler := NewSLAScheduler(f.lf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)
	assert.True(t, scheduler.IsRunning())
	scheduler.Start(ctx)

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
	scheduler.Stop()
}
