package main

// Walkthrough of the kernel's three layers: threads with join/detach, the
// synchronization primitives, and preemptive task scheduling. Runs live and
// needs no config file.

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/nanokernel/internal/kernel"
	"github.com/ChuLiYu/nanokernel/internal/ksync"
	"github.com/ChuLiYu/nanokernel/internal/workload"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

func main() {
	k, err := kernel.New(kernel.Config{
		Live:      true,
		TracePath: "./data/demo.trace",
	})
	if err != nil {
		log.Fatalf("Failed to create kernel: %v", err)
	}
	if err := k.Start(); err != nil {
		log.Fatalf("Failed to start kernel: %v", err)
	}

	fmt.Println("✓ Kernel started")

	demoThreads(k)
	demoSync(k)
	demoScheduler(k)

	k.Stop()
	fmt.Println("✓ Kernel stopped (trace written to ./data/demo.trace)")
}

// demoThreads spawns a few worker threads from the bootstrap thread, joins
// the joinable ones and detaches one.
func demoThreads(k *kernel.Kernel) {
	fmt.Println("\n── Threads ──")

	m := k.Threads()
	sum := 0

	worker := func(arg any) {
		n := arg.(int)
		for i := 0; i < n; i++ {
			sum += i
			m.YieldThread()
		}
	}

	var ids []types.ThreadID
	for i := 0; i < 3; i++ {
		id, err := m.Create(worker, 10, 0, types.ThreadPriorityNormal, 0, fmt.Sprintf("worker-%d", i))
		if err != nil {
			log.Fatalf("Failed to create thread: %v", err)
		}
		ids = append(ids, id)
	}

	bg, err := m.Create(func(any) { m.Sleep(5) }, nil, 0, types.ThreadPriorityLow, types.ThreadFlagDetached, "background")
	if err != nil {
		log.Fatalf("Failed to create detached thread: %v", err)
	}
	fmt.Printf("  Created %d joinable workers and detached thread %d\n", len(ids), bg)

	for _, id := range ids {
		var code int32
		if err := m.Join(id, &code); err != nil {
			log.Fatalf("Failed to join thread %d: %v", id, err)
		}
	}
	fmt.Printf("  Joined all workers, shared sum = %d\n", sum)
	fmt.Printf("  Live threads: %d\n", m.Count())
}

// demoSync shows mutex recursion and bounded semaphore counting.
func demoSync(k *kernel.Kernel) {
	fmt.Println("\n── Synchronization ──")

	// Thread-backed runtime: ownership identity is the calling thread.
	mu := ksync.NewMutex(k.Threads())
	mu.Lock()
	mu.Lock() // same owner: recursion, not deadlock
	owner, count := mu.Owner()
	fmt.Printf("  Mutex held by %d at depth %d\n", owner, count)
	mu.Unlock()
	mu.Unlock()

	sem := k.NewSemaphore(0, 1)
	fmt.Printf("  Semaphore(0,1): try_wait=%v", sem.TryWait())
	sem.Signal()
	sem.Signal() // capped at max
	fmt.Printf(", after two signals count=%d", sem.Count())
	fmt.Printf(", try_wait=%v\n", sem.TryWait())
}

// demoScheduler launches the default workload mix and hands the CPU to the
// scheduler until the mix drains.
func demoScheduler(k *kernel.Kernel) {
	fmt.Println("\n── Scheduler ──")

	ids, err := workload.Launch(k, nil)
	if err != nil {
		log.Fatalf("Failed to launch workloads: %v", err)
	}
	fmt.Printf("  Launched %d tasks, dispatching...\n", len(ids))

	go k.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	timeout := time.After(30 * time.Second)

	for {
		select {
		case <-sigChan:
			fmt.Println("\nReceived shutdown signal, stopping...")
			return
		case <-timeout:
			fmt.Println("  Timed out waiting for workloads")
			return
		case <-time.After(50 * time.Millisecond):
			snap := k.Stats()
			if snap.Scheduler.TasksLive <= 1 {
				fmt.Printf("  All tasks finished: ticks=%d switches=%d preemptions=%d\n",
					snap.Scheduler.Ticks, snap.Scheduler.ContextSwitches, snap.Scheduler.Preemptions)
				return
			}
		}
	}
}
