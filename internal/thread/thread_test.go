package thread

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/nanokernel/internal/arch"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// steppingClock advances by one step per reading, so Sleep's busy-yield loop
// terminates deterministically without a second goroutine.
type steppingClock struct {
	now  atomic.Int64
	step int64
}

func (c *steppingClock) Nanotime() int64 {
	return c.now.Add(c.step)
}

// newTestManager builds a manager on a recording switcher: schedule moves
// the current pointer without transferring control, so a single test flow
// can impersonate whichever thread is current.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{}, arch.NewRecordingSwitcher(), &steppingClock{step: int64(1e6)}, nil)
}

func nobody(any) {}

// assertState asserts a thread's lifecycle state.
func assertState(t *testing.T, m *Manager, id types.ThreadID, want types.ThreadState) {
	t.Helper()
	info, err := m.GetByID(id)
	if err != nil {
		t.Errorf("thread %d not found: %v", id, err)
		return
	}
	if info.State != want {
		t.Errorf("thread %d state: got %s, want %s", id, info.State, want)
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewManagerInstallsBootstrapThread(t *testing.T) {
	m := newTestManager(t)

	require.Equal(t, types.ThreadID(0), m.Current(), "bootstrap thread must be id 0")
	require.Equal(t, 1, m.Count())
	assertState(t, m, 0, types.ThreadRunning)
}

func TestCreateStartsReady(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "worker")
	require.NoError(t, err)
	require.Equal(t, types.ThreadID(1), id)
	require.Equal(t, 2, m.Count())
	assertState(t, m, id, types.ThreadReady)

	info, err := m.GetByID(id)
	require.NoError(t, err)
	require.Equal(t, "worker", info.Name)
	require.NotZero(t, info.Flags&types.ThreadFlagJoinable, "non-detached threads default to joinable")
}

func TestCreateClampsPriorityToNormal(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		prio int
		want int
	}{
		{"negative", -1, types.ThreadPriorityNormal},
		{"too high", 42, types.ThreadPriorityNormal},
		{"valid low", types.ThreadPriorityLow, types.ThreadPriorityLow},
		{"valid realtime", types.ThreadPriorityRealtime, types.ThreadPriorityRealtime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := m.Create(nobody, nil, 0, tt.prio, 0, tt.name)
			require.NoError(t, err)

			info, err := m.GetByID(id)
			require.NoError(t, err)
			require.Equal(t, tt.want, info.Priority)
		})
	}
}

func TestCreateStackDefaultsAndAlignment(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "default-stack")
	require.NoError(t, err)
	slot := m.findLocked(id)
	require.Equal(t, DefaultStackSize, len(m.slots[slot].stack))

	id, err = m.Create(nobody, nil, 100, types.ThreadPriorityNormal, 0, "odd-stack")
	require.NoError(t, err)
	slot = m.findLocked(id)
	require.Equal(t, 112, len(m.slots[slot].stack), "stack size must align up to 16 bytes")
}

func TestCreateTableFull(t *testing.T) {
	m := NewManager(Config{TableSize: 2}, arch.NewRecordingSwitcher(), &steppingClock{}, nil)

	_, err := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "only")
	require.NoError(t, err)

	id, err := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "overflow")
	require.ErrorIs(t, err, ErrTableFull)
	require.Equal(t, types.ThreadID(types.InvalidID), id)
}

func TestScheduleSelectsHighestPriority(t *testing.T) {
	m := newTestManager(t)

	low, _ := m.Create(nobody, nil, 0, types.ThreadPriorityLow, 0, "low")
	high, _ := m.Create(nobody, nil, 0, types.ThreadPriorityRealtime, 0, "high")

	m.YieldThread()
	require.Equal(t, high, m.Current(), "numerically highest priority wins")
	assertState(t, m, 0, types.ThreadReady)
	assertState(t, m, low, types.ThreadReady)
}

func TestScheduleFIFOAmongEquals(t *testing.T) {
	m := newTestManager(t)

	first, _ := m.Create(nobody, nil, 0, types.ThreadPriorityHigh, 0, "first")
	second, _ := m.Create(nobody, nil, 0, types.ThreadPriorityHigh, 0, "second")

	m.YieldThread()
	require.Equal(t, first, m.Current(), "earliest-inserted wins the tie")

	m.YieldThread()
	require.Equal(t, second, m.Current(), "yield rotates equal-priority threads FIFO")

	m.YieldThread()
	require.Equal(t, first, m.Current())
}

func TestYieldWithNothingReadyKeepsCurrent(t *testing.T) {
	m := newTestManager(t)

	m.YieldThread()
	require.Equal(t, types.ThreadID(0), m.Current())
	assertState(t, m, 0, types.ThreadRunning)
}

func TestExitAndJoinReturnsExitCode(t *testing.T) {
	m := newTestManager(t)

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityHigh, 0, "worker")

	m.YieldThread() // worker becomes current
	require.Equal(t, id, m.Current())

	m.Exit(37) // worker exits, bootstrap resumes
	require.Equal(t, types.ThreadID(0), m.Current())
	assertState(t, m, id, types.ThreadZombie)

	var code int32
	require.NoError(t, m.Join(id, &code))
	require.Equal(t, int32(37), code)

	// Join is single-use: cleanup freed the control block.
	require.ErrorIs(t, m.Join(id, &code), ErrNotFound)
	require.Equal(t, 1, m.Count())
}

func TestJoinSelfRejected(t *testing.T) {
	m := newTestManager(t)

	require.ErrorIs(t, m.Join(0, nil), ErrJoinSelf)
}

func TestJoinDetachedRejected(t *testing.T) {
	m := newTestManager(t)

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, types.ThreadFlagDetached, "loner")
	require.ErrorIs(t, m.Join(id, nil), ErrDetached)
}

func TestJoinUnknownThread(t *testing.T) {
	m := newTestManager(t)

	require.ErrorIs(t, m.Join(99, nil), ErrNotFound)
}

func TestDetachBeforeExitCleansUpAutomatically(t *testing.T) {
	m := newTestManager(t)

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityHigh, 0, "worker")
	require.NoError(t, m.Detach(id))
	require.Equal(t, 2, m.Count())

	m.YieldThread() // worker becomes current
	require.Equal(t, id, m.Current())

	m.Exit(0)

	// No join ever happens; the slot is reclaimed at exit.
	_, err := m.GetByID(id)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, m.Count())
}

func TestDetachAfterExitCleansUpImmediately(t *testing.T) {
	m := newTestManager(t)

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityHigh, 0, "worker")
	m.YieldThread()
	m.Exit(0)
	assertState(t, m, id, types.ThreadZombie)

	require.NoError(t, m.Detach(id))
	_, err := m.GetByID(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlockAndUnblock(t *testing.T) {
	m := newTestManager(t)

	worker, _ := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "worker")

	m.Block() // bootstrap blocks itself, worker takes over
	require.Equal(t, worker, m.Current())
	assertState(t, m, 0, types.ThreadBlocked)

	require.NoError(t, m.Unblock(0))
	assertState(t, m, 0, types.ThreadReady)

	require.ErrorIs(t, m.Unblock(0), ErrNotBlocked)
	require.ErrorIs(t, m.Unblock(99), ErrNotFound)
}

func TestSleepRechecksClockEveryYield(t *testing.T) {
	m := newTestManager(t)

	// The stepping clock moves 1ms per reading, so a 5ms sleep returns
	// after a handful of yields.
	m.Sleep(5)
	require.Equal(t, types.ThreadID(0), m.Current())
}

func TestSetPriorityClampsAndApplies(t *testing.T) {
	m := newTestManager(t)

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityLow, 0, "worker")

	require.NoError(t, m.SetPriority(id, types.ThreadPriorityRealtime))
	info, _ := m.GetByID(id)
	require.Equal(t, types.ThreadPriorityRealtime, info.Priority)

	require.NoError(t, m.SetPriority(id, 1000))
	info, _ = m.GetByID(id)
	require.Equal(t, types.ThreadPriorityNormal, info.Priority)

	require.ErrorIs(t, m.SetPriority(99, 1), ErrNotFound)
}

func TestListEnumeratesLiveThreads(t *testing.T) {
	m := newTestManager(t)

	a, _ := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "a")
	b, _ := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "b")

	infos := m.List()
	require.Len(t, infos, 3)

	ids := []types.ThreadID{infos[0].ID, infos[1].ID, infos[2].ID}
	require.Equal(t, []types.ThreadID{0, a, b}, ids)
}

func TestStatsSnapshot(t *testing.T) {
	m := newTestManager(t)

	m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "a")
	m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "b")

	st := m.Stats()
	require.Equal(t, uint64(3), st.ThreadsCreated, "bootstrap counts as created")
	require.Equal(t, 3, st.ThreadsLive)
	require.Equal(t, 2, st.ReadyCount)
	require.Equal(t, types.ThreadID(0), st.CurrentThread)
}

func TestTaskSourceStampsOwningTask(t *testing.T) {
	m := newTestManager(t)
	m.BindTaskSource(func() types.TaskID { return 7 })

	id, _ := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "owned")
	info, _ := m.GetByID(id)
	require.Equal(t, types.TaskID(7), info.Task)
}

// Runs on the live switcher: every joined thread's backing goroutine must
// end after exit instead of staying parked on its gate.
func TestJoinedThreadsReleaseTheirGoroutines(t *testing.T) {
	m := NewManager(Config{}, arch.NewGoroutineSwitcher(), arch.NewMonotonicClock(), nil)

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		id, err := m.Create(nobody, nil, 0, types.ThreadPriorityNormal, 0, "short")
		require.NoError(t, err)

		var code int32
		require.NoError(t, m.Join(id, &code))
		require.Equal(t, int32(0), code)
	}
	require.Equal(t, 1, m.Count(), "only the bootstrap thread survives")

	// Give the exited flows a moment to unwind.
	time.Sleep(50 * time.Millisecond)
	after := runtime.NumGoroutine()
	require.LessOrEqual(t, after, before+2,
		"exited threads must not stay parked on their gates")
}
