// ============================================================================
// Workloads - simulated task bodies
// Responsibilities: provide the canned task entry functions the run command
// and the demo launch on the kernel. Each body cooperates explicitly: it
// delivers its own timer ticks and yields or blocks through the kernel, so
// the scheduler's behavior is fully driven by the workload mix.
//
// Task execution logic (simulation):
//   - spinner: burns rounds of simulated CPU work, one tick per round
//   - yielder: gives the CPU up voluntarily every round
//   - locker:  hammers a shared reentrant mutex, one critical section per round
//   - pinger/ponger: rendezvous pair on a shared counting semaphore
// ============================================================================

// Package workload builds the simulated tasks the demo kernel runs.
package workload

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/ChuLiYu/nanokernel/internal/kernel"
	"github.com/ChuLiYu/nanokernel/internal/ksync"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

var log = slog.Default()

// Spec describes one simulated task to launch.
type Spec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	Rounds   int    `yaml:"rounds"`
}

// DefaultSpecs is the workload mix used when the config names none.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "spin-hi", Kind: "spinner", Priority: 0, Rounds: 40},
		{Name: "spin-lo", Kind: "spinner", Priority: 5, Rounds: 40},
		{Name: "nice", Kind: "yielder", Priority: 2, Rounds: 20},
		{Name: "lock-a", Kind: "locker", Priority: 1, Rounds: 15},
		{Name: "lock-b", Kind: "locker", Priority: 1, Rounds: 15},
		{Name: "ping", Kind: "pinger", Priority: 3, Rounds: 10},
		{Name: "pong", Kind: "ponger", Priority: 3, Rounds: 10},
	}
}

// shared is the state a launched workload mix synchronizes on.
type shared struct {
	k    *kernel.Kernel
	mu   *ksync.Mutex
	ping *ksync.Semaphore
	pong *ksync.Semaphore

	// counter is the value the locker tasks contend over; the mutex is the
	// only thing keeping its increments exact.
	counter int
}

// Launch creates one task per spec on an already-started kernel. Specs with
// an unknown kind fail the whole launch; nothing runs until the caller
// dispatches via kernel.Run.
func Launch(k *kernel.Kernel, specs []Spec) ([]types.TaskID, error) {
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}

	sh := &shared{
		k:    k,
		mu:   k.NewMutex(),
		ping: k.NewSemaphore(1, 1),
		pong: k.NewSemaphore(0, 1),
	}

	ids := make([]types.TaskID, 0, len(specs))
	for _, spec := range specs {
		entry, err := buildEntry(sh, spec)
		if err != nil {
			return ids, err
		}
		id, err := k.Scheduler().CreateTask(entry, spec.Name, spec.Priority, types.TaskFlagUser)
		if err != nil {
			return ids, fmt.Errorf("launch workload %q: %w", spec.Name, err)
		}
		log.Info("workload launched", "name", spec.Name, "kind", spec.Kind, "task", id, "priority", spec.Priority)
		ids = append(ids, id)
	}
	return ids, nil
}

func buildEntry(sh *shared, spec Spec) (func(), error) {
	rounds := spec.Rounds
	if rounds <= 0 {
		rounds = 10
	}

	switch spec.Kind {
	case "spinner":
		return func() { spin(sh, rounds) }, nil
	case "yielder":
		return func() { yield(sh, rounds) }, nil
	case "locker":
		return func() { lockLoop(sh, spec.Name, rounds) }, nil
	case "pinger":
		return func() { relay(sh, rounds, sh.ping, sh.pong) }, nil
	case "ponger":
		return func() { relay(sh, rounds, sh.pong, sh.ping) }, nil
	default:
		return nil, fmt.Errorf("unknown workload kind %q", spec.Kind)
	}
}

// spin simulates CPU-bound work: a little arithmetic per round, then the
// round's timer tick. Preemption happens when the slice runs out.
func spin(sh *shared, rounds int) {
	sink := 0
	for i := 0; i < rounds; i++ {
		for j := 0; j < 64+rand.Intn(64); j++ {
			sink += j * j
		}
		sh.k.Tick()
	}
	_ = sink
}

// yield gives the CPU back every round regardless of the remaining slice.
func yield(sh *shared, rounds int) {
	for i := 0; i < rounds; i++ {
		sh.k.Tick()
		sh.k.Scheduler().Yield()
	}
}

// lockLoop bumps the shared counter once per round under the mutex.
func lockLoop(sh *shared, name string, rounds int) {
	for i := 0; i < rounds; i++ {
		sh.mu.Lock()
		sh.counter++
		sh.mu.Unlock()
		sh.k.Tick()
	}
	log.Info("locker finished", "name", name, "counter_seen", sh.counter)
}

// relay is one side of the ping/pong rendezvous: wait on your own semaphore,
// tick, then release the peer.
func relay(sh *shared, rounds int, own, peer *ksync.Semaphore) {
	for i := 0; i < rounds; i++ {
		own.Wait()
		sh.k.Tick()
		peer.Signal()
	}
}
