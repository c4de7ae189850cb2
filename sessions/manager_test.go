package sessions

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kvgraph/metad/kvstore"
	"github.com/kvgraph/metad/kvstore/memory"
	"github.com/kvgraph/metad/userdir"
)

// microClock hands out microsecond timestamps 1000, 2000, 3000, ... so tests
// control session ids.
type microClock struct {
	t int64
}

func (c *microClock) next() int64 {
	c.t += 1000
	return c.t
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	clock := &microClock{}
	all := append([]Option{WithClock(clock.next)}, opts...)
	return NewManager(memory.New(), userdir.NewStatic("root", "alice"), all...)
}

func TestCreateSessionIdentity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.SessionID != s.CreateTime || s.SessionID != s.UpdateTime {
		t.Fatalf("expected session_id == create_time == update_time, got %+v", s)
	}

	s2, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s2.SessionID <= s.SessionID {
		t.Fatalf("session ids not strictly increasing: %d then %d", s.SessionID, s2.SessionID)
	}
}

func TestCreateSessionUnknownUser(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateSession(context.Background(), "mallory", "graphd-0:9669", "10.0.0.7")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateSessionStoreFailureStillReportsSession(t *testing.T) {
	eng := &failingEngine{Engine: memory.New(), failPut: true}
	clock := &microClock{}
	m := NewManager(eng, userdir.NewStatic("root"), WithClock(clock.next))

	s, err := m.CreateSession(context.Background(), "root", "graphd-0:9669", "10.0.0.7")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if s == nil || s.SessionID != 1000 {
		t.Fatalf("generated session must still be reported on store failure, got %+v", s)
	}
}

func TestGetSessionAfterCreateIsIdentical(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := m.GetSession(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !reflect.DeepEqual(created, got) {
		t.Fatalf("stored record differs from created:\ncreated: %+v\n    got: %+v", created, got)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetSession(context.Background(), 42)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListSessionsAscendingOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var want []int64
	for i := 0; i < 3; i++ {
		s, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		want = append(want, s.SessionID)
	}

	listed, err := m.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed) != len(want) {
		t.Fatalf("listed %d sessions, want %d", len(listed), len(want))
	}
	for i, s := range listed {
		if s.SessionID != want[i] {
			t.Fatalf("listed[%d].SessionID = %d, want %d", i, s.SessionID, want[i])
		}
	}
}

func TestUpdateSessionsStaleSnapshotNotPersisted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	stale := created.Clone()
	stale.UpdateTime = created.UpdateTime - 1
	stale.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}

	res, err := m.UpdateSessions(ctx, []*Session{stale})
	if err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if len(res.KilledSessions) != 0 || len(res.KilledQueries) != 0 {
		t.Fatalf("unexpected kill signals: %+v", res)
	}

	got, err := m.GetSession(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !reflect.DeepEqual(created, got) {
		t.Fatalf("stale snapshot overwrote stored record: %+v", got)
	}
}

func TestUpdateSessionsHeartbeatPersists(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	beat := created.Clone()
	beat.UpdateTime = created.UpdateTime + 50
	beat.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}

	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}

	got, err := m.GetSession(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UpdateTime != beat.UpdateTime {
		t.Fatalf("heartbeat not persisted: update_time=%d, want %d", got.UpdateTime, beat.UpdateTime)
	}
	if got.Queries[7].Status != QueryStatusRunning {
		t.Fatalf("heartbeat queries not persisted: %+v", got.Queries)
	}
}

func TestUpdateSessionsMissingSessionReportedKilled(t *testing.T) {
	m := newTestManager(t)

	ghost := &Session{SessionID: 31337, UpdateTime: 31337}
	res, err := m.UpdateSessions(context.Background(), []*Session{ghost})
	if err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if len(res.KilledSessions) != 1 || res.KilledSessions[0] != 31337 {
		t.Fatalf("expected killed session [31337], got %v", res.KilledSessions)
	}
}

func TestKillThenHeartbeatPropagatesKill(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := created.SessionID

	// Register plan 7 via a heartbeat, then stamp it KILLING server-side.
	beat := created.Clone()
	beat.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}
	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if err := m.KillQueries(ctx, map[int64][]int64{id: {7}}); err != nil {
		t.Fatalf("KillQueries: %v", err)
	}

	// The client does not know yet and heartbeats plan 7 as still RUNNING.
	next := beat.Clone()
	next.UpdateTime = beat.UpdateTime + 1
	res, err := m.UpdateSessions(ctx, []*Session{next})
	if err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	killed, ok := res.KilledQueries[id]
	if !ok {
		t.Fatalf("killed_queries missing session %d: %+v", id, res)
	}
	if desc, ok := killed[7]; !ok || desc.Status != QueryStatusKilling {
		t.Fatalf("killed_queries[%d] = %+v, want plan 7 KILLING", id, killed)
	}

	got, err := m.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Queries[7].Status != QueryStatusKilling {
		t.Fatalf("stored plan 7 status = %q, want KILLING", got.Queries[7].Status)
	}
}

// A stale heartbeat still carries the kill signal back even though nothing is
// persisted for it. Clients must react to kill signals from a stale round.
func TestKillSignalReturnedOnStaleHeartbeat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := created.SessionID

	beat := created.Clone()
	beat.UpdateTime = created.UpdateTime + 10
	beat.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}
	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if err := m.KillQueries(ctx, map[int64][]int64{id: {7}}); err != nil {
		t.Fatalf("KillQueries: %v", err)
	}

	stale := beat.Clone()
	stale.UpdateTime = beat.UpdateTime - 5
	res, err := m.UpdateSessions(ctx, []*Session{stale})
	if err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if desc, ok := res.KilledQueries[id][7]; !ok || desc.Status != QueryStatusKilling {
		t.Fatalf("stale round lost the kill signal: %+v", res)
	}

	// The stale snapshot itself must not have been persisted.
	got, err := m.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UpdateTime != beat.UpdateTime {
		t.Fatalf("stale snapshot persisted: update_time=%d, want %d", got.UpdateTime, beat.UpdateTime)
	}
}

func TestUpdateSessionsStoreFailureWithholdsKillSignals(t *testing.T) {
	eng := &failingEngine{Engine: memory.New()}
	clock := &microClock{}
	m := NewManager(eng, userdir.NewStatic("root"), WithClock(clock.next))
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	beat := created.Clone()
	beat.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}
	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if err := m.KillQueries(ctx, map[int64][]int64{created.SessionID: {7}}); err != nil {
		t.Fatalf("KillQueries: %v", err)
	}

	eng.failPut = true
	next := beat.Clone()
	next.UpdateTime = beat.UpdateTime + 1
	res, err := m.UpdateSessions(ctx, []*Session{next})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if res != nil {
		t.Fatalf("kill signals must be withheld on store failure, got %+v", res)
	}
}

func TestRemoveSessionsBestEffort(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	c, err := m.CreateSession(ctx, "alice", "graphd-1:9669", "10.0.0.8")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	missing := c.SessionID + 1

	removed, err := m.RemoveSessions(ctx, []int64{a.SessionID, missing, c.SessionID})
	if err != nil {
		t.Fatalf("RemoveSessions must always succeed, got %v", err)
	}
	want := []int64{a.SessionID, c.SessionID}
	if !reflect.DeepEqual(removed, want) {
		t.Fatalf("removed = %v, want %v", removed, want)
	}

	if _, err := m.GetSession(ctx, a.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session %d still present after removal", a.SessionID)
	}
}

func TestKillQueriesMissingSessionAbortsAll(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := created.SessionID

	beat := created.Clone()
	beat.Queries = map[int64]QueryDesc{7: {Status: QueryStatusRunning}}
	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}

	err = m.KillQueries(ctx, map[int64][]int64{
		id:    {7},
		99999: {1},
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// No partial persistence: plan 7 must still be RUNNING.
	got, err := m.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Queries[7].Status != QueryStatusRunning {
		t.Fatalf("aborted kill leaked into store: plan 7 = %q", got.Queries[7].Status)
	}
}

func TestKillQueriesMissingPlanAborts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err = m.KillQueries(ctx, map[int64][]int64{created.SessionID: {12345}})
	if !errors.Is(err, ErrQueryNotFound) {
		t.Fatalf("expected ErrQueryNotFound, got %v", err)
	}
}

// The end-to-end scenario from the service contract: create two sessions,
// list them in order, kill a plan on the second, and observe the kill arrive
// through the next heartbeat.
func TestKillPropagationScenario(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.SessionID != 1000 || second.SessionID != 2000 {
		t.Fatalf("unexpected ids: %d, %d", first.SessionID, second.SessionID)
	}

	listed, err := m.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed) != 2 || listed[0].SessionID != 1000 || listed[1].SessionID != 2000 {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	const planA = int64(77)
	beat := second.Clone()
	beat.Queries = map[int64]QueryDesc{planA: {Status: QueryStatusRunning}}
	if _, err := m.UpdateSessions(ctx, []*Session{beat}); err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}

	if err := m.KillQueries(ctx, map[int64][]int64{2000: {planA}}); err != nil {
		t.Fatalf("KillQueries: %v", err)
	}

	next := beat.Clone()
	next.UpdateTime = beat.UpdateTime + 1
	res, err := m.UpdateSessions(ctx, []*Session{next})
	if err != nil {
		t.Fatalf("UpdateSessions: %v", err)
	}
	if desc, ok := res.KilledQueries[2000][planA]; !ok || desc.Status != QueryStatusKilling {
		t.Fatalf("kill did not propagate: %+v", res)
	}
}

func TestRemoveSessionsAbsorbsRemoveFailures(t *testing.T) {
	eng := &failingEngine{Engine: memory.New(), failRemove: true}
	clock := &microClock{}
	m := NewManager(eng, userdir.NewStatic("root"), WithClock(clock.next))
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "root", "graphd-0:9669", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	removed, err := m.RemoveSessions(ctx, []int64{created.SessionID})
	if err != nil {
		t.Fatalf("RemoveSessions must absorb per-id failures, got %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("failed removal must not be reported as removed: %v", removed)
	}

	// The record is still there.
	if _, err := m.GetSession(ctx, created.SessionID); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
}

// failingEngine wraps a real engine and fails batch puts or removals on
// demand.
type failingEngine struct {
	kvstore.Engine
	failPut    bool
	failRemove bool
}

func (f *failingEngine) SyncPut(ctx context.Context, batch []kvstore.KV) error {
	if f.failPut {
		return errors.New("replica quorum lost")
	}
	return f.Engine.SyncPut(ctx, batch)
}

func (f *failingEngine) AsyncRemove(key string, onComplete func(error)) {
	if f.failRemove {
		go onComplete(errors.New("replica quorum lost"))
		return
	}
	f.Engine.AsyncRemove(key, onComplete)
}
