package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// End is the terminal transition target. Connecting an action to End (or
// leaving it unconnected) finishes the thread.
const End = "__end__"

// Sentinel errors returned by Engine.Advance.
var (
	// ErrThreadDone is returned when advancing a thread that already reached
	// a terminal state.
	ErrThreadDone = errors.New("flow: thread already finished")

	// ErrUnknownNode is returned when a checkpoint references a node that is
	// not part of the graph.
	ErrUnknownNode = errors.New("flow: unknown node")
)

// Graph is a set of named nodes with action-labelled transitions, an entry
// point, and a set of nodes the engine pauses before to await external input.
type Graph struct {
	nodes      map[string]Node
	edges      map[string]map[Action]string
	entry      string
	interrupts map[string]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]Node),
		edges:      make(map[string]map[Action]string),
		interrupts: make(map[string]bool),
	}
}

// AddNode registers a node under a name. Returns the graph for chaining.
func (g *Graph) AddNode(name string, node Node) *Graph {
	g.nodes[name] = node
	return g
}

// Connect adds a transition from one named node to another for an action.
func (g *Graph) Connect(from string, action Action, to string) *Graph {
	if g.edges[from] == nil {
		g.edges[from] = make(map[Action]string)
	}
	g.edges[from][action] = to
	return g
}

// SetEntry sets the node execution starts from on a fresh thread.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// InterruptBefore marks nodes the engine suspends before entering. Execution
// stops when it arrives at one of these nodes and resumes there on the next
// Advance call, after the caller's update has been merged.
func (g *Graph) InterruptBefore(names ...string) *Graph {
	for _, name := range names {
		g.interrupts[name] = true
	}
	return g
}

// Validate checks that the entry point and every transition target exist.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("flow: graph has no entry point")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("flow: entry %q: %w", g.entry, ErrUnknownNode)
	}
	for from, transitions := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("flow: edge source %q: %w", from, ErrUnknownNode)
		}
		for action, to := range transitions {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("flow: edge %s[%s] -> %q: %w", from, action, to, ErrUnknownNode)
			}
		}
	}
	for name := range g.interrupts {
		if _, ok := g.nodes[name]; !ok {
			return fmt.Errorf("flow: interrupt %q: %w", name, ErrUnknownNode)
		}
	}
	return nil
}

// MergeFunc applies a caller-supplied update to the shared store before the
// engine resumes a thread. The default is SharedStore.Merge; applications with
// per-field semantics (append-only transcripts) supply their own.
type MergeFunc func(*SharedStore, map[string]any)

// Status is the result of one Advance call.
type Status struct {
	ThreadID string
	// Pending names the suspended node awaiting input; empty when Done.
	Pending string
	// Done reports whether the thread reached a terminal state.
	Done bool
	// Store is the thread state after this call.
	Store *SharedStore
}

// Engine executes a Graph with checkpointed suspend/resume per thread.
type Engine struct {
	graph    *Graph
	ckpt     Checkpointer
	merge    MergeFunc
	maxSteps int
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMergeFunc sets the update-merge function.
func WithMergeFunc(fn MergeFunc) EngineOption {
	return func(e *Engine) {
		e.merge = fn
	}
}

// WithMaxSteps caps node executions per Advance call. The cap only trips on
// graphs that loop without passing an interrupt node.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine for the graph backed by the checkpointer.
func NewEngine(g *Graph, ckpt Checkpointer, opts ...EngineOption) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		graph:    g,
		ckpt:     ckpt,
		merge:    (*SharedStore).Merge,
		maxSteps: 100,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// threadLock returns the mutex guarding a thread identifier, creating it on
// first use. This is the single-writer-per-thread guarantee: two concurrent
// Advance calls for the same thread serialize here.
func (e *Engine) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[threadID] = lock
	}
	return lock
}

// Advance resumes a thread, merging the optional update into its state first,
// and executes nodes until the flow suspends before an interrupt node,
// reaches a terminal transition, or a node fails. On failure nothing is
// persisted, so the previous checkpoint remains resumable. A nil update
// resumes without modifying state (used at session start).
func (e *Engine) Advance(ctx context.Context, threadID string, update map[string]any) (*Status, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	shared := NewSharedStore()
	current := e.graph.entry

	cp, err := e.ckpt.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("flow: load checkpoint %s: %w", threadID, err)
	}
	if cp != nil {
		if cp.Done {
			return nil, ErrThreadDone
		}
		if _, ok := e.graph.nodes[cp.Next]; !ok {
			return nil, fmt.Errorf("flow: checkpoint %s resumes at %q: %w", threadID, cp.Next, ErrUnknownNode)
		}
		shared.Merge(cp.State)
		current = cp.Next
	}

	if update != nil {
		e.merge(shared, update)
	}

	// The first node of a resumption always executes, even if it is an
	// interrupt node: the pause happened before it on the previous call and
	// the caller's input is now available to consume.
	first := true
	for step := 0; ; step++ {
		if step >= e.maxSteps {
			return nil, fmt.Errorf("flow: thread %s exceeded %d steps without suspending", threadID, e.maxSteps)
		}

		if !first && e.graph.interrupts[current] {
			if err := e.save(ctx, threadID, current, false, shared); err != nil {
				return nil, err
			}
			e.logger.Debug("thread suspended", "thread_id", threadID, "pending", current)
			return &Status{ThreadID: threadID, Pending: current, Store: shared}, nil
		}
		first = false

		node := e.graph.nodes[current]
		action, err := Run(ctx, node, shared)
		if err != nil {
			return nil, fmt.Errorf("flow: node %s: %w", current, err)
		}

		next, ok := e.graph.edges[current][action]
		if !ok || next == End {
			if err := e.save(ctx, threadID, "", true, shared); err != nil {
				return nil, err
			}
			e.logger.Debug("thread finished", "thread_id", threadID, "last_node", current)
			return &Status{ThreadID: threadID, Done: true, Store: shared}, nil
		}
		current = next
	}
}

func (e *Engine) save(ctx context.Context, threadID, next string, done bool, shared *SharedStore) error {
	cp := &Checkpoint{
		ThreadID: threadID,
		Next:     next,
		Done:     done,
		State:    shared.GetAll(),
	}
	if err := e.ckpt.Save(ctx, cp); err != nil {
		return fmt.Errorf("flow: save checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Evict removes a thread's checkpoint and lock. Advancing the thread again
// starts it from scratch.
func (e *Engine) Evict(ctx context.Context, threadID string) error {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.ckpt.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("flow: delete checkpoint %s: %w", threadID, err)
	}

	e.mu.Lock()
	delete(e.locks, threadID)
	e.mu.Unlock()
	return nil
}

// Inspect returns the current checkpoint state for a thread without advancing
// it, or nil if the thread has no checkpoint.
func (e *Engine) Inspect(ctx context.Context, threadID string) (*Status, error) {
	cp, err := e.ckpt.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("flow: load checkpoint %s: %w", threadID, err)
	}
	if cp == nil {
		return nil, nil
	}
	shared := NewSharedStore()
	shared.Merge(cp.State)
	return &Status{ThreadID: threadID, Pending: cp.Next, Done: cp.Done, Store: shared}, nil
}
