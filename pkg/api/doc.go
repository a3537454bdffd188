// Package api defines the public types of the convoflow session engine:
// the flow graph model, the durable session record, the per-traversal
// execution context, the node executor and channel connector contracts,
// and the observer used for logging and metrics.
//
// The root convoflow package re-exports the commonly used types, so most
// applications only import this package when implementing custom node
// executors or channel connectors.
package api
