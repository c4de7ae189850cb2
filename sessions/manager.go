package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kvgraph/metad/kvstore"
	"github.com/kvgraph/metad/userdir"
)

// Manager implements the session lifecycle operations over the replicated
// store. It owns the process-wide session domain lock: every operation takes
// it, shared for reads and exclusive for writes.
type Manager struct {
	mu    sync.RWMutex
	store *store
	users userdir.Directory
	log   *slog.Logger

	// nowMicro returns the current wall-clock time in microseconds. It is
	// the session id generator; tests inject a deterministic clock.
	nowMicro func() int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for operational events.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the microsecond wall clock used to mint session ids.
func WithClock(nowMicro func() int64) Option {
	return func(m *Manager) { m.nowMicro = nowMicro }
}

func NewManager(engine kvstore.Engine, users userdir.Directory, opts ...Option) *Manager {
	m := &Manager{
		store:    &store{engine: engine},
		users:    users,
		log:      slog.Default(),
		nowMicro: func() int64 { return time.Now().UnixMicro() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UpdateResult carries the kill signals a heartbeat round-trip delivers back
// to the client: which of its in-flight plans the server marked KILLING, and
// which of its sessions no longer exist server-side.
type UpdateResult struct {
	// KilledQueries maps session id to the stored QueryDesc of every plan
	// whose kill stamp was merged into that session's snapshot.
	KilledQueries map[int64]map[int64]QueryDesc

	// KilledSessions lists snapshot ids with no stored record; the client
	// must drop them locally.
	KilledSessions []int64
}

// CreateSession registers a new session for user, identified by the current
// microsecond timestamp. The id doubles as the creation time, and there is
// no collision detection: two creations within the same microsecond collide
// on one key (see DESIGN.md).
//
// When the durable write fails, the generated Session is still returned
// alongside the store error so callers can surface both.
func (m *Manager) CreateSession(ctx context.Context, user, graphAddr, clientIP string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.users.Exists(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("user directory lookup: %w", err)
	}
	if !ok {
		m.log.Info("create session rejected", slog.String("user", user), slog.String("reason", "user not found"))
		return nil, fmt.Errorf("user %q: %w", user, ErrUserNotFound)
	}

	id := m.nowMicro()
	session := &Session{
		SessionID:  id,
		CreateTime: id,
		UpdateTime: id,
		UserName:   user,
		GraphAddr:  graphAddr,
		ClientIP:   clientIP,
		Queries:    make(map[int64]QueryDesc),
	}

	raw, err := encodeSession(session)
	if err != nil {
		return nil, err
	}
	if err := m.store.syncPut(ctx, []kvstore.KV{{Key: sessionKey(id), Value: raw}}); err != nil {
		m.log.Info("put data error on meta server", slog.Int64("session_id", id), slog.String("err", err.Error()))
		return session, storeErr("put", err)
	}
	return session, nil
}

// UpdateSessions is the heartbeat merge. Each snapshot is handled
// independently:
//
//  1. No stored record -> the session was killed; report it and move on.
//  2. Every plan the store marks KILLING that the snapshot still carries is
//     forced to KILLING in the snapshot and reported back.
//  3. If the stored record is newer than the snapshot, nothing is persisted
//     for it — but the kill signals from step 2 are still returned. Clients
//     must act on kill signals even from a stale round.
//  4. Otherwise the merged snapshot is staged.
//
// One durable batch write lands all staged records. If that write fails, the
// error is returned and the accumulated kill signals are withheld.
func (m *Manager) UpdateSessions(ctx context.Context, snapshots []*Session) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []kvstore.KV
	res := &UpdateResult{
		KilledQueries:  make(map[int64]map[int64]QueryDesc),
		KilledSessions: make([]int64, 0),
	}

	for _, snapshot := range snapshots {
		id := snapshot.SessionID
		raw, err := m.store.get(ctx, sessionKey(id))
		if err != nil {
			// Absent means killed. Other lookup failures are absorbed the
			// same way rather than failing the whole heartbeat.
			if !errors.Is(err, kvstore.ErrKeyNotFound) {
				m.log.Warn("session lookup failed during heartbeat", slog.Int64("session_id", id), slog.String("err", err.Error()))
			} else {
				m.log.Info("heartbeat for killed session", slog.Int64("session_id", id))
			}
			res.KilledSessions = append(res.KilledSessions, id)
			continue
		}
		stored, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}

		merged := snapshot.Clone()
		killed := make(map[int64]QueryDesc)
		for planID, storedDesc := range stored.Queries {
			snapDesc, ok := merged.Queries[planID]
			if !ok {
				continue
			}
			if storedDesc.Status == QueryStatusKilling {
				snapDesc.Status = QueryStatusKilling
				merged.Queries[planID] = snapDesc
				killed[planID] = storedDesc
			}
		}
		if len(killed) > 0 {
			res.KilledQueries[id] = killed
		}

		// The stored record has seen a newer heartbeat than this snapshot;
		// keep it. The kill merge above still reaches the caller.
		if stored.UpdateTime > merged.UpdateTime {
			m.log.Debug("stale heartbeat skipped",
				slog.Int64("session_id", id),
				slog.Int64("snapshot_update_time", merged.UpdateTime),
				slog.Int64("stored_update_time", stored.UpdateTime))
			continue
		}

		val, err := encodeSession(merged)
		if err != nil {
			return nil, err
		}
		batch = append(batch, kvstore.KV{Key: sessionKey(id), Value: val})
	}

	if err := m.store.syncPut(ctx, batch); err != nil {
		m.log.Info("put data error on meta server", slog.String("err", err.Error()))
		return nil, storeErr("put", err)
	}
	return res, nil
}

// ListSessions returns every stored session in ascending session id order.
func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, err := m.store.prefixScan(ctx, sessionPrefix())
	if err != nil {
		return nil, storeErr("scan", err)
	}
	defer it.Close()

	var sessions []*Session
	for ; it.Valid(); it.Next() {
		s, err := decodeSession(it.Value())
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := it.Err(); err != nil {
		return nil, storeErr("scan", err)
	}
	return sessions, nil
}

// GetSession returns the stored record for id, or ErrSessionNotFound.
func (m *Manager) GetSession(ctx context.Context, id int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, err := m.store.get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
		}
		return nil, storeErr("get", err)
	}
	return decodeSession(raw)
}

// RemoveSessions destroys the given sessions best-effort: absent ids are
// skipped, failed removals are logged and skipped, and the call always
// succeeds. The returned slice — not the absence of an error — is the source
// of truth for what was actually removed.
func (m *Manager) RemoveSessions(ctx context.Context, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make([]int64, 0, len(ids))
	for _, id := range ids {
		key := sessionKey(id)
		if _, err := m.store.get(ctx, key); err != nil {
			m.log.Info("session not found, skipping removal", slog.Int64("session_id", id))
			continue
		}
		if err := m.store.remove(ctx, key); err != nil {
			m.log.Error("remove session key failed", slog.Int64("session_id", id), slog.String("err", err.Error()))
			continue
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// KillQueries stamps the requested execution plans KILLING. It is
// all-or-nothing: any missing session or plan aborts the whole request
// before anything is persisted, including sessions processed earlier in the
// same request. One durable batch write lands every stamped record.
func (m *Manager) KillQueries(ctx context.Context, requests map[int64][]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []kvstore.KV
	for id, planIDs := range requests {
		raw, err := m.store.get(ctx, sessionKey(id))
		if err != nil {
			if errors.Is(err, kvstore.ErrKeyNotFound) {
				m.log.Info("kill query for unknown session", slog.Int64("session_id", id))
				return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
			}
			return storeErr("get", err)
		}
		session, err := decodeSession(raw)
		if err != nil {
			return err
		}

		for _, planID := range planIDs {
			desc, ok := session.Queries[planID]
			if !ok {
				return fmt.Errorf("session %d plan %d: %w", id, planID, ErrQueryNotFound)
			}
			desc.Status = QueryStatusKilling
			session.Queries[planID] = desc
		}

		val, err := encodeSession(session)
		if err != nil {
			return err
		}
		batch = append(batch, kvstore.KV{Key: sessionKey(id), Value: val})
	}

	if err := m.store.syncPut(ctx, batch); err != nil {
		m.log.Info("put data error on meta server", slog.String("err", err.Error()))
		return storeErr("put", err)
	}
	return nil
}
