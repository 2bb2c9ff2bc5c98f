// Package comm models the fixed SPMD communicator the spec describes
// (§5): every process runs the same pipeline over its own chunk, and the
// only suspension points are the collective operations implemented here
// (all-to-all reslice, rotation-centering gather/broadcast, and collective
// open of intermediate-writer files). There is no MPI binding in the
// example corpus to ground this on, so it is expressed the idiomatic Go
// way: an explicit interface plus an in-process implementation built on
// goroutines and channels, following the worker/goroutine-pool shape of
// plan/exec.go's mkpool/executor rather than a process-level transport.
package comm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Communicator is the collective-operations surface the runner, rotation
// wrapper, and reslicer depend on.
type Communicator interface {
	Rank() int
	Size() int
	// Barrier blocks until every rank has called Barrier.
	Barrier()
	// AllToAll exchanges one []byte payload per destination rank; send[j]
	// is the payload this rank sends to rank j, and the returned slice's
	// element i is the payload this rank received from rank i.
	AllToAll(send [][]byte) ([][]byte, error)
	// Gather collects one []byte payload from every rank onto root; non-root
	// ranks receive a nil slice.
	Gather(root int, payload []byte) ([][]byte, error)
	// Broadcast sends root's payload to every other rank.
	Broadcast(root int, payload []byte) ([]byte, error)
	// Open runs fn collectively exactly once per distinct key across all
	// ranks that call Open with that key, used for the intermediate
	// writer's "open on first invocation, collectively" requirement.
	Open(key string, fn func() error) error
}

// Group is a fixed set of in-process ranks sharing channels, standing in
// for an MPI communicator. Construct with NewGroup and obtain each rank's
// view with Rank.
type Group struct {
	size       int
	mu         sync.Mutex
	cond       *sync.Cond
	waitCount  int
	genCounter int
	opens      map[string]*openState
	id         string

	allToAllBuf [][][]byte
	gatherBuf   [][]byte
	bcastBuf    []byte
}

type openState struct {
	once sync.Once
	err  error
}

// NewGroup builds a Group of size in-process ranks.
func NewGroup(size int) *Group {
	if size <= 0 {
		size = 1
	}
	g := &Group{
		size:  size,
		opens: make(map[string]*openState),
		id:    uuid.NewString(),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// ID is a unique identifier generated for this communicator at
// construction; nothing else in the module reads it.
func (g *Group) ID() string { return g.id }

// Rank returns the view of this Group for process index r.
func (g *Group) Rank(r int) *View {
	return &View{g: g, rank: r}
}

// View is one rank's handle onto a Group.
type View struct {
	g    *Group
	rank int
}

func (v *View) Rank() int { return v.rank }
func (v *View) Size() int { return v.g.size }

// Barrier blocks the calling rank until every rank in the group has
// called Barrier, implemented as a simple generation-counted barrier.
func (v *View) Barrier() {
	g := v.g
	g.mu.Lock()
	defer g.mu.Unlock()
	target := g.genCounter + 1
	g.waitCount++
	if g.waitCount == g.size {
		g.waitCount = 0
		g.genCounter++
		g.cond.Broadcast()
		return
	}
	for g.genCounter < target {
		g.cond.Wait()
	}
}

// AllToAll exchanges payloads across all ranks of the group. Each rank
// must call AllToAll with a send slice of length Size(); the call blocks
// until every rank has contributed its payloads.
func (v *View) AllToAll(send [][]byte) ([][]byte, error) {
	g := v.g
	if len(send) != g.size {
		return nil, fmt.Errorf("comm: all-to-all send slice has %d entries, want %d", len(send), g.size)
	}
	g.mu.Lock()
	if g.allToAllBuf == nil {
		g.allToAllBuf = make([][][]byte, g.size)
	}
	g.allToAllBuf[v.rank] = send
	g.mu.Unlock()

	v.Barrier()

	recv := make([][]byte, g.size)
	g.mu.Lock()
	for i := 0; i < g.size; i++ {
		recv[i] = g.allToAllBuf[i][v.rank]
	}
	g.mu.Unlock()

	v.Barrier()
	return recv, nil
}

// Gather collects payload from every rank onto root.
func (v *View) Gather(root int, payload []byte) ([][]byte, error) {
	g := v.g
	g.mu.Lock()
	if g.gatherBuf == nil {
		g.gatherBuf = make([][]byte, g.size)
	}
	g.gatherBuf[v.rank] = payload
	g.mu.Unlock()

	v.Barrier()

	var out [][]byte
	if v.rank == root {
		out = make([][]byte, g.size)
		g.mu.Lock()
		copy(out, g.gatherBuf)
		g.mu.Unlock()
	}
	v.Barrier()
	return out, nil
}

// Broadcast sends root's payload to every rank.
func (v *View) Broadcast(root int, payload []byte) ([]byte, error) {
	g := v.g
	g.mu.Lock()
	if v.rank == root {
		g.bcastBuf = payload
	}
	g.mu.Unlock()

	v.Barrier()

	g.mu.Lock()
	out := g.bcastBuf
	g.mu.Unlock()

	v.Barrier()
	return out, nil
}

// Open runs fn exactly once across the whole group for the given key.
func (v *View) Open(key string, fn func() error) error {
	g := v.g
	g.mu.Lock()
	st, ok := g.opens[key]
	if !ok {
		st = &openState{}
		g.opens[key] = st
	}
	g.mu.Unlock()

	st.once.Do(func() {
		st.err = fn()
	})
	v.Barrier()
	return st.err
}
