// Package devicestore persists device metadata discovered from the Symi
// gateway.
//
// The mesh is the source of truth for runtime state: switch levels,
// temperatures and positions are re-read after every reconnect and are
// never written here. The store only carries what discovery cannot
// recover - the display name assigned by the installer, and first/last
// seen bookkeeping.
//
// Usage:
//
//	store := devicestore.New(db.DB)
//
//	// After each discovery cycle
//	err := store.RecordDiscovery(ctx, observations)
//
//	// Display names for the discovery announcement
//	names, err := store.Names(ctx)
package devicestore
