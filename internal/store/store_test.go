package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	ready        []string
	expired      []uint64
	deadlineSoon []uint64
}

func (f *fakeHub) JobReady(tube string, jobID uint64)   { f.ready = append(f.ready, tube) }
func (f *fakeHub) JobExpired(connID, jobID uint64)      { f.expired = append(f.expired, jobID) }
func (f *fakeHub) DeadlineSoon(connID, jobID uint64)    { f.deadlineSoon = append(f.deadlineSoon, jobID) }

func (f *fakeHub) ScheduleDelay(uint64, time.Time, uint32)                {}
func (f *fakeHub) ScheduleTTR(uint64, time.Time, uint32)                  {}
func (f *fakeHub) ScheduleDeadlineSoon(uint64, time.Time, uint32, uint64) {}

func newTestStore() (*Store, *fakeHub) {
	h := &fakeHub{}
	return New(h, h), h
}

func TestPutThenReserve(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 10, 0, 60, []byte("hello"))

	j, ok := s.ReserveNext([]string{"default"}, 1)
	require.True(t, ok)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, Reserved, j.State)
	assert.Equal(t, uint64(1), j.ReserverConnID)

	_, ok = s.ReserveNext([]string{"default"}, 2)
	assert.False(t, ok, "job should not be reservable twice")
}

func TestReadyOrderByPriorityThenFIFO(t *testing.T) {
	s, _ := newTestStore()
	a := s.Put("default", 10, 0, 60, []byte("a"))
	b := s.Put("default", 5, 0, 60, []byte("b"))
	c := s.Put("default", 10, 0, 60, []byte("c"))
	d := s.Put("default", 5, 0, 60, []byte("d"))

	var order []uint64
	for i := 0; i < 4; i++ {
		j, ok := s.ReserveNext([]string{"default"}, 1)
		require.True(t, ok)
		order = append(order, j.ID)
	}
	assert.Equal(t, []uint64{b, d, a, c}, order)
}

func TestDelayedJobNotReadyUntilFired(t *testing.T) {
	s, hub := newTestStore()
	id := s.Put("default", 0, 30, 60, []byte("later"))

	_, ok := s.ReserveNext([]string{"default"}, 1)
	assert.False(t, ok)

	j, ok := s.Peek(id)
	require.True(t, ok)
	s.FireDelay(id, j.Epoch)

	assert.Contains(t, hub.ready, "default")
	got, ok := s.ReserveNext([]string{"default"}, 1)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
}

func TestStaleDelayFireIsNoOp(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 30, 60, []byte("later"))
	s.FireDelay(id, 9999)

	_, ok := s.ReserveNext([]string{"default"}, 1)
	assert.False(t, ok, "stale epoch must not promote the job")
}

func TestDeleteRequiresOwnershipWhenReserved(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)

	assert.False(t, s.Delete(id, 2))
	assert.True(t, s.Delete(id, 1))

	_, ok := s.Peek(id)
	assert.False(t, ok)
}

func TestReleaseRequeuesWithNewPriority(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 50, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)

	require.True(t, s.Release(id, 1, 1, 0))
	j, ok := s.PeekReady("default")
	require.True(t, ok)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, uint32(1), j.Pri)
}

func TestBuryAndKickJob(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)
	require.True(t, s.Bury(id, 1, 0))

	j, ok := s.PeekBuried("default")
	require.True(t, ok)
	assert.Equal(t, id, j.ID)

	require.True(t, s.KickJob(id))
	got, ok := s.PeekReady("default")
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
}

func TestKickPrefersBuriedOverDelayed(t *testing.T) {
	s, _ := newTestStore()
	buriedID := s.Put("default", 0, 0, 60, []byte("b"))
	s.ReserveNext([]string{"default"}, 1)
	s.Bury(buriedID, 1, 0)
	s.Put("default", 0, 100, 60, []byte("d"))

	n := s.Kick("default", 5)
	assert.Equal(t, 1, n)
	j, ok := s.PeekReady("default")
	require.True(t, ok)
	assert.Equal(t, buriedID, j.ID)
}

func TestTouchRequiresOwnership(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)

	assert.False(t, s.Touch(id, 2))
	assert.True(t, s.Touch(id, 1))
}

func TestFireTTRReleasesJobAndNotifiesConnection(t *testing.T) {
	s, hub := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	j, _ := s.ReserveNext([]string{"default"}, 7)

	s.FireTTR(id, j.Epoch)
	assert.Contains(t, hub.expired, id)

	got, ok := s.Peek(id)
	require.True(t, ok)
	assert.Equal(t, Ready, got.State)
	assert.EqualValues(t, 1, got.Timeouts)
}

func TestPauseTubeBlocksReservation(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.PauseTube("default", 60)

	_, ok := s.ReserveNext([]string{"default"}, 1)
	assert.False(t, ok)

	s.PauseTube("default", 0)
	j, ok := s.ReserveNext([]string{"default"}, 1)
	require.True(t, ok)
	assert.Equal(t, id, j.ID)
}

func TestReserveAcrossTubesTieBreaksByName(t *testing.T) {
	s, _ := newTestStore()
	s.Retain("alpha")
	s.Retain("zeta")
	zID := s.Put("zeta", 5, 0, 60, []byte("z"))
	s.Put("alpha", 5, 0, 60, []byte("a"))

	j, ok := s.ReserveNext([]string{"zeta", "alpha"}, 1)
	require.True(t, ok)
	assert.NotEqual(t, zID, j.ID, "alpha sorts before zeta on a priority tie")
}

func TestReleaseConnectionJobsOnDisconnect(t *testing.T) {
	s, hub := newTestStore()
	id1 := s.Put("default", 0, 0, 60, []byte("1"))
	id2 := s.Put("default", 0, 0, 60, []byte("2"))
	s.ReserveNext([]string{"default"}, 1)
	s.ReserveNext([]string{"default"}, 1)

	released := s.ReleaseConnectionJobs(1)
	assert.ElementsMatch(t, []uint64{id1, id2}, released)
	// Two ready events from the puts, two more from the release.
	assert.Len(t, hub.ready, 4)
}

func TestTubeReapedWhenUnreferencedAndEmpty(t *testing.T) {
	s, _ := newTestStore()
	s.Retain("scratch")
	assert.Contains(t, s.ListTubeNames(), "scratch")

	s.Release("scratch")
	assert.NotContains(t, s.ListTubeNames(), "scratch")
}

func TestDefaultTubeNeverReaped(t *testing.T) {
	s, _ := newTestStore()
	s.Release(defaultTubeName)
	assert.Contains(t, s.ListTubeNames(), defaultTubeName)
}

func TestReserveByIDPromotesDelayedJob(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 300, 60, []byte("later"))

	j, ok := s.ReserveByID(id, 1)
	require.True(t, ok)
	assert.Equal(t, Reserved, j.State)
	assert.Equal(t, uint64(1), j.ReserverConnID)

	_, ok = s.PeekDelayed("default")
	assert.False(t, ok, "job must leave the delayed list once reserved")
}

func TestReserveByIDPromotesBuriedJob(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)
	require.True(t, s.Bury(id, 1, 0))

	j, ok := s.ReserveByID(id, 2)
	require.True(t, ok)
	assert.Equal(t, Reserved, j.State)
	assert.Equal(t, uint64(2), j.ReserverConnID)

	_, ok = s.PeekBuried("default")
	assert.False(t, ok, "job must leave the buried list once reserved")
}

func TestReserveByIDRejectsAlreadyReserved(t *testing.T) {
	s, _ := newTestStore()
	id := s.Put("default", 0, 0, 60, []byte("x"))
	s.ReserveNext([]string{"default"}, 1)

	_, ok := s.ReserveByID(id, 2)
	assert.False(t, ok)
}
