// Package journal provides type-safe Go definitions and Redis schema patterns
// for the Flywheel control plane's durable state. The journal is where all
// Flywheel components (optimizer daemon, CLI) persist and observe experiment
// snapshots, economic indicator snapshots, the adjustment log, and the privacy
// audit log.
//
// All Redis keys and channels are namespaced by instance name so that multiple
// Flywheel instances can safely coexist on a single Redis server.
//
// The adjustment log and the privacy audit log are bounded lists with
// oldest-entry eviction. Entries are never silently discarded on write: a
// failed append surfaces as an error to the caller.
package journal
