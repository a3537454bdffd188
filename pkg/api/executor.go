package api

import (
	"context"
	"fmt"
	"sync"
)

// OutcomeKind is the continuation signal a node handler returns.
type OutcomeKind int

const (
	// OutcomeContinue advances the traversal to the node's outgoing edges.
	OutcomeContinue OutcomeKind = iota

	// OutcomeWait parks the session as WAITING with the handler's
	// WaitingContext; traversal resumes at the same node when a matching
	// input arrives.
	OutcomeWait

	// OutcomeTerminal ends the flow at this node (payment, human handoff).
	// The session completes without resolving outgoing edges.
	OutcomeTerminal

	// OutcomeFailed fails the session, unless the node is configured to
	// treat failure as non-blocking.
	OutcomeFailed
)

// Outcome is what a node handler returns to the engine.
type Outcome struct {
	Kind    OutcomeKind
	Waiting *WaitingContext // set for OutcomeWait
	Err     error           // set for OutcomeFailed
}

// Continue signals normal advancement.
func Continue() Outcome { return Outcome{Kind: OutcomeContinue} }

// WaitForInput parks the session until input matching wc arrives.
func WaitForInput(wc *WaitingContext) Outcome {
	return Outcome{Kind: OutcomeWait, Waiting: wc}
}

// Terminal stops the flow at this node.
func Terminal() Outcome { return Outcome{Kind: OutcomeTerminal} }

// Failed fails the session with the given reason.
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// Failf fails the session with a formatted reason.
func Failf(format string, args ...any) Outcome {
	return Failed(fmt.Errorf(format, args...))
}

// NodeExecutor performs a node's effect. Implementations may read and
// write the ExecContext; blocking external calls must honor ctx.
//
// Executors performing side effects with consequences outside the engine
// should consult the context's idempotency ledger (ReplayEffect /
// RecordEffect) keyed by node id and ExecContext.PathID before acting.
type NodeExecutor interface {
	Execute(ctx context.Context, node NodeSpec, ec *ExecContext) Outcome
}

// ExecutorFunc adapts a function to NodeExecutor.
type ExecutorFunc func(ctx context.Context, node NodeSpec, ec *ExecContext) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, node NodeSpec, ec *ExecContext) Outcome {
	return f(ctx, node, ec)
}

// ResumeMatcher is implemented by executors of node kinds that wait for
// input. It decides whether an inbound message satisfies the node's
// WaitingContext. A non-match must leave the context untouched; the engine
// then reports the message as not handled by this session.
type ResumeMatcher interface {
	// MatchResumedInput returns the captured value and true when msg
	// satisfies wc. The matched selector, if any, should be recorded on ec
	// for edge resolution.
	MatchResumedInput(node NodeSpec, wc *WaitingContext, msg InboundMessage, ec *ExecContext) (captured any, matched bool)
}

// Registry is the capability-indexed dispatch table from node kind to
// executor. It is constructed at process start and injected into the
// engine; there is no ambient global table.
type Registry struct {
	mu        sync.RWMutex
	executors map[NodeKind]NodeExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[NodeKind]NodeExecutor)}
}

// Register binds an executor to a kind. Registering the same kind twice
// is an error; use Replace to deliberately override a built-in.
func (r *Registry) Register(kind NodeKind, exec NodeExecutor) error {
	if exec == nil {
		return fmt.Errorf("nil executor for kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor already registered for kind %q", kind)
	}
	r.executors[kind] = exec
	return nil
}

// Replace binds an executor to a kind, overriding any existing binding.
func (r *Registry) Replace(kind NodeKind, exec NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = exec
}

// Lookup returns the executor for a kind.
func (r *Registry) Lookup(kind NodeKind) (NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	return exec, ok
}
