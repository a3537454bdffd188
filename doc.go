// Package convoflow provides an embeddable, session-aware execution
// engine for conversational automation flows.
//
// A flow is a directed graph of typed nodes: a trigger that decides when
// the flow starts, action nodes that send messages or call webhooks, wait
// nodes that park the conversation until the contact answers, and branch
// nodes that route on conditions or keywords. Convoflow runs fully in Go,
// supports multiple persistence backends, and integrates cleanly into
// existing messaging backends.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. FlowBuilder
//  3. NodeExecutor
//  4. Dispatcher
//  5. LocalRunner
//
// # Engine
//
// The Engine stores flow definitions, matches inbound messages against
// triggers and waiting sessions, walks the graph, and persists session
// state at every step. Its APIs let you:
//   - register flows (registration order is trigger precedence)
//   - handle inbound messages
//   - read, pause, resume and abandon sessions
//   - sweep inactive sessions to TIMEOUT
//   - recover sessions stranded by a crash
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// All message processing for one conversation is serialized, and a
// redelivered message id is rejected outright, so channel webhooks can
// retry without double-firing flow side effects.
//
// # FlowBuilder
//
// FlowBuilder provides the declarative API used to define flow graphs:
//
//	flow := convoflow.NewFlow("support", "Support").
//	    KeywordTrigger("start", "help,support").
//	    Message("greet", "Hi {{contact.id}}! How can we help?").
//	    Question("topic", "Describe your issue.", "issue").
//	    Edge("start", "greet").
//	    Edge("greet", "topic")
//
//	if err := eng.RegisterFlow(flow.Definition()); err != nil {
//	    log.Fatal(err)
//	}
//
// # NodeExecutor
//
// Every node kind is executed by a NodeExecutor. The built-in registry
// covers the standard kinds over a ChannelConnector; applications replace
// individual executors to integrate their own channels or side effects.
//
// # Dispatcher
//
// A Dispatcher pulls queued inbound messages and feeds them to the
// engine, so webhook handlers can enqueue and return immediately. A
// SQLite-backed queue makes deliveries survive restarts.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine, queue, dispatcher and a
// recording connector into a single process-local helper for development
// and unit testing. It is intentionally not crash-durable.
//
// For examples, see the /examples directory or the project README.
package convoflow
