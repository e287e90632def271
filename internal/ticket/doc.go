// Package ticket defines the support ticket domain model, its forward-only
// status lifecycle, and the Store interface the triage engine and API persist through.
package ticket
