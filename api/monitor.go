/*
monitor.go - Periodic treasury health checks

PURPOSE:
  Watches the snapshot from outside the core and logs warnings a cashier
  or accountant should act on. It never mutates anything.

CHECKS:
  - Safe below its minimum threshold or above its maximum
  - Registry till below its float target
  - No safe count recorded today after the deadline hour

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on start
  - An uninitialized treasury is not an alert

USAGE:
  monitor := NewTreasuryMonitor(ledger, log)
  monitor.CheckInterval = 15 * time.Minute
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - treasury/types.go: SafeStatus, RegistryShortfall
  - treasury/verification.go: DailyVerifier.Today
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/treasury-engine/treasury"
)

type AlertKind string

const (
	AlertSafeBelowMin        AlertKind = "safe_below_min"
	AlertSafeAboveMax        AlertKind = "safe_above_max"
	AlertRegistryBelowFloat  AlertKind = "registry_below_float"
	AlertVerificationMissing AlertKind = "verification_missing"
)

// Alert is one condition found by a check.
type Alert struct {
	Kind    AlertKind
	Amount  treasury.Amount // distance to the limit; 0 for a missing count
	Message string
}

// TreasuryMonitor logs treasury alerts on a ticker.
type TreasuryMonitor struct {
	Ledger        *treasury.Ledger
	Verifier      *treasury.DailyVerifier
	CheckInterval time.Duration
	DeadlineHour  int // local hour after which a missing count is reported
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTreasuryMonitor creates a monitor with a 15 minute interval and an
// 18:00 deadline.
func NewTreasuryMonitor(ledger *treasury.Ledger, log zerolog.Logger) *TreasuryMonitor {
	return &TreasuryMonitor{
		Ledger:        ledger,
		Verifier:      treasury.NewDailyVerifier(ledger),
		CheckInterval: 15 * time.Minute,
		DeadlineHour:  18,
		Enabled:       true,
		log:           log.With().Str("component", "monitor").Logger(),
	}
}

// Start begins the monitor. A disabled monitor or a non-positive interval
// does nothing.
func (m *TreasuryMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled || m.CheckInterval <= 0 {
		m.log.Info().Msg("monitor disabled, not starting")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run()

	m.log.Info().Dur("interval", m.CheckInterval).Msg("monitor started")
}

// Stop stops the monitor and waits for an in-flight check to finish.
func (m *TreasuryMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.log.Info().Msg("monitor stopped")
}

func (m *TreasuryMonitor) run() {
	defer m.wg.Done()

	m.RunNow()

	for {
		select {
		case <-m.ticker.C:
			m.RunNow()
		case <-m.stop:
			return
		}
	}
}

// RunNow performs one check and logs every alert.
func (m *TreasuryMonitor) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alerts, err := m.Check(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("treasury check failed")
		return
	}
	for _, a := range alerts {
		m.log.Warn().Str("alert", string(a.Kind)).Int64("amount", int64(a.Amount)).Msg(a.Message)
	}
}

// Check evaluates every condition against the current snapshot.
func (m *TreasuryMonitor) Check(ctx context.Context) ([]Alert, error) {
	snap, err := m.Ledger.Snapshot(ctx)
	if errors.Is(err, treasury.ErrNotInitialized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	switch snap.SafeStatus() {
	case treasury.SafeBelowMin:
		alerts = append(alerts, Alert{
			Kind:    AlertSafeBelowMin,
			Amount:  snap.SafeThresholdMin - snap.Safe,
			Message: fmt.Sprintf("safe balance %d below minimum %d", snap.Safe, snap.SafeThresholdMin),
		})
	case treasury.SafeAboveMax:
		alerts = append(alerts, Alert{
			Kind:    AlertSafeAboveMax,
			Amount:  snap.Safe - snap.SafeThresholdMax,
			Message: fmt.Sprintf("safe balance %d above maximum %d, deposit to bank", snap.Safe, snap.SafeThresholdMax),
		})
	}

	if short := snap.RegistryShortfall(); short > 0 {
		alerts = append(alerts, Alert{
			Kind:    AlertRegistryBelowFloat,
			Amount:  short,
			Message: fmt.Sprintf("registry balance %d below float target %d", snap.Registry, snap.RegistryFloatTarget),
		})
	}

	now := m.Ledger.Clock().Now()
	if now.Hour() >= m.DeadlineHour {
		today, err := m.Verifier.Today(ctx)
		if err != nil {
			return nil, err
		}
		if today == nil {
			alerts = append(alerts, Alert{
				Kind:    AlertVerificationMissing,
				Message: fmt.Sprintf("safe not counted on %s", treasury.DateOf(now)),
			})
		}
	}

	return alerts, nil
}
