package assetcache

import "errors"

// Error taxonomy for the cache's internal control flow. Lookups and
// inserts collapse failures to a miss, a false, or a zero value and log the
// detail through slog; the one value a cache method returns is
// ErrNotFound, from Store when it is given a nil asset. The values exist so
// internal code can branch with
// errors.Is instead of string matching, mirroring the sentinel style the
// rest of this module's ancestry uses for storage-layer errors.
var (
	// ErrNotFound covers a missing file, a missing negative entry, or a
	// blank/all-zero-UUID ID rejected before any tier is consulted.
	ErrNotFound = errors.New("assetcache: not found")

	// ErrBadFormat is returned by the codec when a stored record fails
	// validation (wrong magic, bad version, oversized field, truncated
	// stream). The caller deletes the offending file and treats it as miss.
	ErrBadFormat = errors.New("assetcache: bad format")

	// ErrIoTransient covers a filesystem read/write/move failure that is
	// expected to be transient.
	ErrIoTransient = errors.New("assetcache: transient io error")

	// ErrContention names the case of a write submission that finds the
	// target path already reserved by another in-flight write job; the
	// writer package reports that case with its own writer.ErrContention.
	ErrContention = errors.New("assetcache: write path already reserved")

	// ErrUpstreamError wraps an error returned by the upstream collaborator.
	// It is never recorded as a negative, to avoid masking an outage.
	ErrUpstreamError = errors.New("assetcache: upstream fetch failed")

	// ErrUpstreamAbsent marks an explicit "not present" answer from
	// upstream, as distinct from a transport failure.
	ErrUpstreamAbsent = errors.New("assetcache: upstream reports absent")

	// ErrCleanupError covers a filesystem error encountered mid-sweep; the
	// sweep logs it and continues with the next directory.
	ErrCleanupError = errors.New("assetcache: cleanup error")
)
