package notifications

import "context"

// Overlay bucket names. They mirror the browser storage keys the web client
// kept this state under before the portal took it over, so a half-migrated
// client and the portal agree on naming.
const (
	BucketRead   = "healermy-provider-read-notifications"
	BucketHidden = "healermy-provider-hidden-notifications"
)

// StateStore holds the per-owner overlay: sets of Communication ids whose
// read or hidden mutation has been requested locally but not yet observed on
// the upstream record. The overlay is not authoritative; entries are removed
// once the upstream record reflects the change.
//
// ownerID is the session's subject reference ("Patient/p1",
// "Practitioner/pr1") so patient and practitioner ids can never collide.
type StateStore interface {
	// Get returns the set of ids in the owner's bucket.
	Get(ctx context.Context, ownerID, bucket string) (map[string]bool, error)
	// Add inserts ids into the owner's bucket. Existing ids are kept.
	Add(ctx context.Context, ownerID, bucket string, ids ...string) error
	// Remove drops ids from the owner's bucket. Missing ids are ignored.
	Remove(ctx context.Context, ownerID, bucket string, ids ...string) error
	// Count returns the total number of entries across all owners and
	// buckets.
	Count(ctx context.Context) (int, error)
}
