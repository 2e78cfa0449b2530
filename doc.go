// Package ingest tracks asynchronous, externally-executed ingestion jobs
// through a bounded state machine. It coordinates dispatch to an external
// worker over HTTP and reconciles worker-reported status via a webhook
// callback.
//
// Ingest is designed as a library, not a service. Import it, configure a
// store, and drive the lifecycle through a Manager:
//
//	store := memory.New()
//	dispatcher := worker.NewDispatcher(ingest.DefaultWorkerConfig())
//	mgr, err := lifecycle.NewManager(store, dispatcher)
//
// # Architecture
//
// The job store is the single source of truth. The lifecycle manager owns
// every state transition; the dispatcher translates transport outcomes into
// transitions; the reconciler feeds worker callbacks back through the same
// transition table. Illegal transitions are rejected without touching the
// stored row.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package ingest
