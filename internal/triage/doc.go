// Package triage provides the business boundary for Deskmate's ticket triage.
// It defines the Engine (the classify, retrieve, draft and decide workflow),
// the Service (sync and fire-and-forget entry points), the persistence and
// provider interfaces it consumes, and the WorkflowContext a run returns.
package triage
