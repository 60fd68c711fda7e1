package telemetry

// TierOutcome names which layer answered a cache request, the attribute
// value RecordRequest attaches to the tier-hits counter. Grounded on this
// module's earlier CacheResult enum (hit/miss/bypass/na attached to HTTP
// request metrics); narrowed here to the four tiers plus negative/miss the
// layered cache core actually distinguishes.
type TierOutcome string

const (
	TierWeak     TierOutcome = "weak"
	TierMemory   TierOutcome = "memory"
	TierFile     TierOutcome = "file"
	TierNegative TierOutcome = "negative"
	TierUpstream TierOutcome = "upstream"
	TierMiss     TierOutcome = "miss"
)
