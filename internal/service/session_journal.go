package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/audit"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// SessionJournal writes an audit record for every observed session
// transition. Change notifications coalesce, so transitions that happen
// between two observations are reported as their net effect.
type SessionJournal struct {
	state  *session.State
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionJournal creates a journal. Call Start to begin recording.
func NewSessionJournal(state *session.State, store audit.Store, logger *slog.Logger) *SessionJournal {
	return &SessionJournal{
		state:  state,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins recording. A session that is already live is recorded as
// started.
func (j *SessionJournal) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)

	// Subscribe before the first snapshot so no change is missed.
	changes, unsubscribe := j.state.Subscribe()
	prev := session.Snapshot{}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer unsubscribe()
		for {
			cur := j.state.Snapshot()
			j.write(ctx, DiffSnapshots(prev, cur, j.now()))
			prev = cur

			select {
			case <-changes:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends recording and flushes the store.
func (j *SessionJournal) Stop() {
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()
	j.wg.Wait()

	if err := j.store.Flush(context.Background()); err != nil {
		j.logger.Warn("failed to flush session audit log", "error", err)
	}
}

func (j *SessionJournal) write(ctx context.Context, records []audit.Record) {
	if len(records) == 0 {
		return
	}
	if err := j.store.Append(context.WithoutCancel(ctx), records...); err != nil {
		j.logger.Warn("failed to write session audit records", "count", len(records), "error", err)
	}
}

// DiffSnapshots returns the audit records describing the move from prev to
// cur.
func DiffSnapshots(prev, cur session.Snapshot, now time.Time) []audit.Record {
	var out []audit.Record

	replaced := prev.IsAuthenticated && cur.IsAuthenticated && prev.Epoch != cur.Epoch
	if prev.IsAuthenticated && (!cur.IsAuthenticated || replaced) {
		rec := newRecord(audit.EventSessionEnded, prev, now)
		switch {
		case replaced:
			rec.Reason = "replaced"
		case cur.Error != "":
			rec.Reason = cur.Error
		default:
			rec.Reason = "cleared"
		}
		out = append(out, rec)
	}
	if !cur.IsAuthenticated {
		return out
	}

	started := !prev.IsAuthenticated || replaced
	switch {
	case started:
		out = append(out, newRecord(audit.EventSessionStarted, cur, now))
	case cur.AccessToken != prev.AccessToken:
		out = append(out, newRecord(audit.EventTokenRefreshed, cur, now))
	}

	if cur.User != nil && (started || prev.User == nil) {
		out = append(out, newRecord(audit.EventProfileLoaded, cur, now))
	}
	return out
}

func newRecord(event audit.EventType, snap session.Snapshot, now time.Time) audit.Record {
	rec := audit.Record{
		Timestamp:        now.UTC(),
		Event:            event,
		Epoch:            snap.Epoch,
		TokenFingerprint: token.Fingerprint(snap.AccessToken),
	}
	if !snap.TokenExpiration.IsZero() {
		exp := snap.TokenExpiration.UTC()
		rec.TokenExpiresAt = &exp
	}
	if snap.User != nil {
		rec.UserID = snap.User.ID
		rec.UserEmail = snap.User.Email
	}
	return rec
}
