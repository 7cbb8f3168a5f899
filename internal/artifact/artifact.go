// Package artifact manages access to rendered outputs in shared object
// storage. Runs store only an object key; clients receive time-limited
// signed URLs minted on demand.
package artifact

import (
	"context"
	"time"
)

// SignedURL is a time-limited access URL for a stored artifact.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// Signer mints signed URLs for artifact object keys.
type Signer interface {
	PresignGet(ctx context.Context, key string) (SignedURL, error)
}

// NeedsRefresh reports whether a stored artifact URL should be re-signed.
// A missing expiry always refreshes; otherwise the URL is refreshed once it
// is within the given window of expiring.
func NeedsRefresh(expiresAt *time.Time, now time.Time, window time.Duration) bool {
	if expiresAt == nil {
		return true
	}
	return now.Add(window).After(*expiresAt)
}
