package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/metrics"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

// DefaultSweepInterval is how often pending policies are scanned
const DefaultSweepInterval = 5 * time.Second

// ExpiryPolicy decides when an activated policy expires. No automatic
// transition to expired exists; the date is only stamped on activation.
type ExpiryPolicy interface {
	ExpiresAt(p model.Policy) (time.Time, bool)
}

// NoExpiry never sets an expiry date
type NoExpiry struct{}

// ExpiresAt always returns false
func (NoExpiry) ExpiresAt(model.Policy) (time.Time, bool) {
	return time.Time{}, false
}

// Activator promotes pending policies once the activation delay has passed
type Activator struct {
	docs     *store.Documents
	clock    clock.Clock
	delay    time.Duration
	interval time.Duration
	expiry   ExpiryPolicy
	logger   logrus.FieldLogger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewActivator creates an activator sharing the manager's store and delay
func NewActivator(m *Manager, interval time.Duration, logger logrus.FieldLogger) *Activator {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Activator{
		docs:     m.docs,
		clock:    m.clock,
		delay:    m.delay,
		interval: interval,
		expiry:   NoExpiry{},
		logger:   logger,
	}
}

// SetExpiryPolicy replaces the default NoExpiry
func (a *Activator) SetExpiryPolicy(e ExpiryPolicy) {
	a.expiry = e
}

// Sweep runs one activation pass and returns the number of policies activated.
// Policies already active are never touched.
func (a *Activator) Sweep(ctx context.Context) (int, error) {
	now := a.clock.Now()
	var activated []string

	err := a.docs.Update(ctx, func(db *model.Database) error {
		for i := range db.Policies {
			p := &db.Policies[i]
			if p.Status != model.PolicyPending || now.Sub(p.CreatedAt) < a.delay {
				continue
			}

			t := now
			p.Status = model.PolicyActive
			p.ActivatedAt = &t
			if exp, ok := a.expiry.ExpiresAt(*p); ok {
				p.ExpiresAt = &exp
			}

			audit.Append(db, now, audit.Entry{
				Action:     audit.ActionPolicyActivated,
				EntityType: model.EntityPolicy,
				EntityID:   p.ID,
				Message:    fmt.Sprintf("Policy activated: %s", p.PolicyNumber),
				Data:       map[string]string{"policyNumber": p.PolicyNumber},
			})
			activated = append(activated, p.PolicyNumber)
		}

		if len(activated) == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, number := range activated {
		a.logger.WithField("policy_number", number).Info("policy activated")
	}
	metrics.PoliciesActivated(len(activated))
	return len(activated), nil
}

// tick is one scheduled sweep. Failures are logged and counted, never returned.
func (a *Activator) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval*4)
	defer cancel()

	if _, err := a.Sweep(ctx); err != nil {
		metrics.SweepFailed()
		a.logger.WithError(err).Error("activation sweep failed")
	}
}

// Start schedules the sweep every interval. A tick still running when the
// next one is due makes that next one skip. Calling Start twice is a no-op.
func (a *Activator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(a.logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(a.logger)),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", a.interval), a.tick); err != nil {
		return fmt.Errorf("schedule activation sweep: %w", err)
	}
	c.Start()

	a.cron = c
	a.running = true
	a.logger.WithFields(logrus.Fields{
		"interval": a.interval.String(),
		"delay":    a.delay.String(),
	}).Info("policy activator started")
	return nil
}

// Stop halts scheduling and waits for a running tick to finish
func (a *Activator) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.running = false
	a.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.logger.Info("policy activator stopped")
}

// Running reports whether the scheduler is active
func (a *Activator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
