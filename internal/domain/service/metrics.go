package service

// AuthMetrics receives counters from the auth flows. Implementations must be safe for
// concurrent use.
type AuthMetrics interface {
	RecordAuthEvent(operation, outcome string)
	RecordRateLimit(limiter string, allowed bool)
	RecordRevocationsPruned(count int64)
}

// NopAuthMetrics discards everything.
type NopAuthMetrics struct{}

func (NopAuthMetrics) RecordAuthEvent(string, string) {}
func (NopAuthMetrics) RecordRateLimit(string, bool)   {}
func (NopAuthMetrics) RecordRevocationsPruned(int64)  {}
