// Package flow is a minimalist graph workflow engine for conversational
// pipelines. Nodes run through a prep->exec->post lifecycle against a shared
// state store; a Graph names the nodes and wires action-labelled transitions;
// an Engine executes the graph with pause-before-node suspension points and
// durable per-thread checkpoints.
//
// Thread Safety:
// A SharedStore is safe for concurrent access. Nodes themselves should not be
// shared across concurrent executions of the same thread; the Engine enforces
// a single writer per thread identifier.
//
// Example:
//
//	node := flow.NewNode(
//	    flow.WithExecFunc(func(ctx context.Context, prepResult any) (any, error) {
//	        return "hello", nil
//	    }),
//	)
//	shared := flow.NewSharedStore()
//	action, err := flow.Run(ctx, node, shared)
package flow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SharedStore provides thread-safe access to the state threaded through a flow.
type SharedStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedStore creates a new thread-safe shared store.
func NewSharedStore() *SharedStore {
	return &SharedStore{
		data: make(map[string]any),
	}
}

// Get retrieves a value from the store.
func (s *SharedStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	return val, ok
}

// Set stores a value in the store.
func (s *SharedStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes a key from the store.
func (s *SharedStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// GetString retrieves a string value, or "" if absent or not a string.
func (s *SharedStore) GetString(key string) string {
	return s.GetStringOr(key, "")
}

// GetStringOr retrieves a string value, or defaultVal if absent or not a string.
func (s *SharedStore) GetStringOr(key, defaultVal string) string {
	val, ok := s.Get(key)
	if !ok {
		return defaultVal
	}
	str, ok := val.(string)
	if !ok {
		return defaultVal
	}
	return str
}

// GetInt retrieves an int value, or 0 if absent or not numeric.
// JSON-decoded numbers arrive as float64 and are converted.
func (s *SharedStore) GetInt(key string) int {
	val, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// GetBool retrieves a bool value, or false if absent or not a bool.
func (s *SharedStore) GetBool(key string) bool {
	val, ok := s.Get(key)
	if !ok {
		return false
	}
	b, ok := val.(bool)
	if !ok {
		return false
	}
	return b
}

// GetAll returns a copy of all data.
func (s *SharedStore) GetAll() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := make(map[string]any, len(s.data))
	for k, v := range s.data {
		copy[k] = v
	}
	return copy
}

// Merge merges another map into the store. A nil value removes the key.
func (s *SharedStore) Merge(data map[string]any) {
	if data == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range data {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
}

// Action represents the next action to take after a node executes.
type Action string

const (
	// DefaultAction is the default action if none is specified.
	DefaultAction Action = "default"
)

// Node is the interface that all nodes must implement.
type Node interface {
	// Prep reads and preprocesses data from the shared store.
	Prep(ctx context.Context, shared *SharedStore) (any, error)

	// Exec executes the main logic with optional retries.
	Exec(ctx context.Context, prepResult any) (any, error)

	// Post processes results and writes back to the shared store.
	Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error)
}

// BaseNode provides a base implementation of Node.
type BaseNode struct {
	mu         sync.RWMutex
	maxRetries int
	wait       time.Duration
}

// NewBaseNode creates a new BaseNode with options.
func NewBaseNode(opts ...NodeOption) *BaseNode {
	n := &BaseNode{
		maxRetries: 1,
		wait:       0,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// NodeOption is a function that configures a BaseNode.
type NodeOption func(*BaseNode)

// WithMaxRetries sets the maximum number of Exec attempts.
func WithMaxRetries(retries int) NodeOption {
	return func(n *BaseNode) {
		n.maxRetries = retries
	}
}

// WithWait sets the wait duration between retries.
func WithWait(wait time.Duration) NodeOption {
	return func(n *BaseNode) {
		n.wait = wait
	}
}

// GetMaxRetries returns the maximum number of Exec attempts.
func (n *BaseNode) GetMaxRetries() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxRetries
}

// GetWait returns the wait duration between retries.
func (n *BaseNode) GetWait() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.wait
}

// Prep is the default prep implementation (can be overridden).
func (n *BaseNode) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	return nil, nil
}

// Exec is the default exec implementation (must be overridden).
func (n *BaseNode) Exec(ctx context.Context, prepResult any) (any, error) {
	return nil, nil
}

// Post is the default post implementation (can be overridden).
func (n *BaseNode) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	return DefaultAction, nil
}

// ExecFallback handles errors after all retries are exhausted.
func (n *BaseNode) ExecFallback(prepResult any, err error) (any, error) {
	return nil, err
}

// RetryableNode is a node that supports retries.
type RetryableNode interface {
	Node
	GetMaxRetries() int
	GetWait() time.Duration
}

// FallbackNode is a node that supports fallback on error.
type FallbackNode interface {
	ExecFallback(prepResult any, err error) (any, error)
}

// Run executes the node with the prep->exec->post lifecycle.
func Run(ctx context.Context, node Node, shared *SharedStore) (Action, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("run: context cancelled: %w", err)
	}

	prepResult, err := node.Prep(ctx, shared)
	if err != nil {
		return "", fmt.Errorf("run: prep failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("run: context cancelled after prep: %w", err)
	}

	var maxRetries int = 1
	var wait time.Duration = 0

	if retryable, ok := node.(RetryableNode); ok {
		maxRetries = retryable.GetMaxRetries()
		wait = retryable.GetWait()
	}

	var execResult any
	var execErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("run: context cancelled during retry: %w", err)
		}

		if attempt > 0 && wait > 0 {
			select {
			case <-time.After(wait):
				// Continue with retry
			case <-ctx.Done():
				return "", fmt.Errorf("run: context cancelled during wait: %w", ctx.Err())
			}
		}

		execResult, execErr = node.Exec(ctx, prepResult)
		if execErr == nil {
			break
		}
	}

	if execErr != nil {
		if fallback, ok := node.(FallbackNode); ok {
			execResult, execErr = fallback.ExecFallback(prepResult, execErr)
		}
		if execErr != nil {
			return "", fmt.Errorf("run: exec failed after %d retries: %w", maxRetries, execErr)
		}
	}

	action, err := node.Post(ctx, shared, prepResult, execResult)
	if err != nil {
		return "", fmt.Errorf("run: post failed: %w", err)
	}

	if action == "" {
		action = DefaultAction
	}

	return action, nil
}

// CustomNode is a node implementation that uses custom functions.
type CustomNode struct {
	*BaseNode
	prepFunc func(context.Context, *SharedStore) (any, error)
	execFunc func(context.Context, any) (any, error)
	postFunc func(context.Context, *SharedStore, any, any) (Action, error)
}

// Prep implements Node.Prep by calling the custom prepFunc if provided.
func (n *CustomNode) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	if n.prepFunc != nil {
		return n.prepFunc(ctx, shared)
	}
	return n.BaseNode.Prep(ctx, shared)
}

// Exec implements Node.Exec by calling the custom execFunc if provided.
func (n *CustomNode) Exec(ctx context.Context, prepResult any) (any, error) {
	if n.execFunc != nil {
		return n.execFunc(ctx, prepResult)
	}
	return n.BaseNode.Exec(ctx, prepResult)
}

// Post implements Node.Post by calling the custom postFunc if provided.
func (n *CustomNode) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	if n.postFunc != nil {
		return n.postFunc(ctx, shared, prepResult, execResult)
	}
	return n.BaseNode.Post(ctx, shared, prepResult, execResult)
}

// NewNode creates a new node with custom function implementations.
func NewNode(opts ...any) Node {
	node := &CustomNode{
		BaseNode: NewBaseNode(),
	}

	var customOpts []CustomNodeOption
	var baseOpts []NodeOption

	for _, opt := range opts {
		switch o := opt.(type) {
		case CustomNodeOption:
			customOpts = append(customOpts, o)
		case NodeOption:
			baseOpts = append(baseOpts, o)
		case func(*BaseNode):
			baseOpts = append(baseOpts, NodeOption(o))
		default:
			// Ignore unknown option types
		}
	}

	for _, opt := range baseOpts {
		opt(node.BaseNode)
	}

	for _, opt := range customOpts {
		opt.apply(node)
	}

	return node
}

// CustomNodeOption is an option for configuring a CustomNode.
type CustomNodeOption interface {
	apply(*CustomNode)
}

type customNodeOption struct {
	f func(*CustomNode)
}

func (o *customNodeOption) apply(n *CustomNode) {
	o.f(n)
}

// WithPrepFunc sets a custom Prep implementation.
func WithPrepFunc(fn func(context.Context, *SharedStore) (any, error)) CustomNodeOption {
	return &customNodeOption{
		f: func(n *CustomNode) {
			n.prepFunc = fn
		},
	}
}

// WithExecFunc sets a custom Exec implementation.
func WithExecFunc(fn func(context.Context, any) (any, error)) CustomNodeOption {
	return &customNodeOption{
		f: func(n *CustomNode) {
			n.execFunc = fn
		},
	}
}

// WithPostFunc sets a custom Post implementation.
func WithPostFunc(fn func(context.Context, *SharedStore, any, any) (Action, error)) CustomNodeOption {
	return &customNodeOption{
		f: func(n *CustomNode) {
			n.postFunc = fn
		},
	}
}
