package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

// ErrLockLost is returned by Trader.Run when another instance took over
// the trading lock.
var ErrLockLost = errors.New("trader lock lost")

// ErrLocked is returned when another live instance holds the trading lock.
var ErrLocked = errors.New("trader lock held by another instance")

// Engine is the part of the scheduler the live trader drives.
type Engine interface {
	Run(ctx context.Context) error
	Halt(reason string)
	Resume()
	Status() models.TraderStatus
}

type TraderConfig struct {
	// Owner identifies this process in the lock. Random when empty.
	Owner          string
	LockTTL        time.Duration
	StatusInterval time.Duration
}

// Trader runs the live scheduler with its state kept in the state store:
// a single-instance lock, the kill switch and periodic status snapshots.
type Trader struct {
	cfg     TraderConfig
	engine  Engine
	state   drepo.StateStore
	journal *TradeJournal
	l       *applogger.Logger
}

// NewTrader wires the trader. state may be nil, in which case nothing is
// locked or persisted.
func NewTrader(cfg TraderConfig, engine Engine, state drepo.StateStore, journal *TradeJournal, l *applogger.Logger) *Trader {
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Trader{cfg: cfg, engine: engine, state: state, journal: journal, l: l}
}

// Run blocks until ctx ends, the engine fails or the lock is lost.
func (t *Trader) Run(ctx context.Context) error {
	if t.state != nil {
		ok, err := t.state.AcquireLock(ctx, t.cfg.Owner, t.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire trader lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.state.ReleaseLock(releaseCtx, t.cfg.Owner); err != nil {
				t.l.Warn("release trader lock", applogger.Error(err))
			}
		}()

		halted, reason, err := t.state.Halted(ctx)
		if err != nil {
			return fmt.Errorf("load halt flag: %w", err)
		}
		if halted {
			t.engine.Halt(reason)
			t.l.Warn("starting halted", applogger.String("reason", reason))
		}
	}
	t.l.Info("trader starting", applogger.String("owner", t.cfg.Owner))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		if t.journal != nil {
			t.journal.Run(ctx)
		}
	}()
	defer func() { <-journalDone }()

	lockLost := make(chan struct{})
	if t.state != nil {
		go t.keepLock(ctx, cancel, lockLost)
		go t.statusLoop(ctx)
	}

	err := t.engine.Run(ctx)
	t.saveStatus(context.Background())

	select {
	case <-lockLost:
		return ErrLockLost
	default:
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *Trader) keepLock(ctx context.Context, cancel context.CancelFunc, lost chan<- struct{}) {
	ticker := time.NewTicker(t.cfg.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := t.state.AcquireLock(ctx, t.cfg.Owner, t.cfg.LockTTL)
			if err != nil {
				// keep trading through a blip; the TTL covers two more tries
				t.l.Warn("renew trader lock", applogger.Error(err))
				continue
			}
			if !ok {
				t.l.Error("trader lock taken by another instance, stopping", applogger.String("owner", t.cfg.Owner))
				close(lost)
				cancel()
				return
			}
		}
	}
}

func (t *Trader) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.saveStatus(ctx)
		}
	}
}

func (t *Trader) saveStatus(ctx context.Context) {
	if t.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.state.SaveStatus(ctx, t.engine.Status()); err != nil {
		t.l.Warn("save trader status", applogger.Error(err))
	}
}

// Halt stops new entries and persists the kill switch so a restart stays
// halted. Open positions keep their exit rules.
func (t *Trader) Halt(ctx context.Context, reason string) error {
	t.engine.Halt(reason)
	if t.state == nil {
		return nil
	}
	if err := t.state.SetHalted(ctx, true, reason); err != nil {
		return fmt.Errorf("persist halt: %w", err)
	}
	return nil
}

func (t *Trader) Resume(ctx context.Context) error {
	t.engine.Resume()
	if t.state == nil {
		return nil
	}
	if err := t.state.SetHalted(ctx, false, ""); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}
	return nil
}

func (t *Trader) Status() models.TraderStatus { return t.engine.Status() }

// RecentTrades serves trades from memory, newest first.
func (t *Trader) RecentTrades(instrument string, limit int) []models.TradeRecord {
	if t.journal == nil {
		return nil
	}
	return t.journal.Recent(instrument, limit)
}
