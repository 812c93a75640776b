// Package scoring holds the proxy health state machine: given a record's
// prior state and one reported outcome, it computes the next state. The
// transition is pure so it can be tested exhaustively; the database layer
// mirrors it as a single conditional UPDATE for concurrency safety.
package scoring

type Status string

const (
	StatusSuccess Status = "success"
	StatusBlocked Status = "blocked"
	StatusTimeout Status = "timeout"
	StatusCaptcha Status = "captcha"
	StatusSlow    Status = "slow"
	StatusError   Status = "error"
)

// LatencyAveraging selects how avg_latency_ms is folded. Historical variants
// of the feedback pipeline used both; the exponential form is the default.
type LatencyAveraging string

const (
	// LatencyEMA weights the prior average 0.9 and the new sample 0.1.
	LatencyEMA LatencyAveraging = "ema"
	// LatencyCumulative keeps a plain running mean over all reports.
	LatencyCumulative LatencyAveraging = "cumulative"
)

const (
	// DefaultFailThreshold is the consecutive-failure count at which a
	// record is marked unhealthy.
	DefaultFailThreshold = 10

	MinScore = 0
	MaxScore = 100
)

type Config struct {
	FailThreshold    int
	LatencyAveraging LatencyAveraging
}

func DefaultConfig() Config {
	return Config{
		FailThreshold:    DefaultFailThreshold,
		LatencyAveraging: LatencyEMA,
	}
}

// Snapshot is the subset of a proxy record the transition reads. Every field
// must reflect the row as it stood before the report being applied.
type Snapshot struct {
	Score            int
	Healthy          bool
	ConsecutiveFails int
	SuccessCount     int
	FailCount        int
	AvgLatencyMs     int64
}

type Report struct {
	Status    Status
	LatencyMs int64
}

// ScoreDelta returns the score adjustment for a status, before clamping.
func ScoreDelta(status Status) int {
	switch status {
	case StatusSuccess:
		return 1
	case StatusBlocked, StatusCaptcha:
		return -5
	default: // timeout, error, slow
		return -2
	}
}

// Apply computes the record state after one report. All derived fields come
// from prior alone, never from other freshly computed fields, so two
// concurrent reports applied in either order each see a consistent base.
func Apply(prior Snapshot, rep Report, cfg Config) Snapshot {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultFailThreshold
	}

	next := prior
	next.Score = clamp(prior.Score + ScoreDelta(rep.Status))

	if rep.Status == StatusSuccess {
		next.SuccessCount = prior.SuccessCount + 1
		next.ConsecutiveFails = 0
		next.Healthy = true
	} else {
		next.FailCount = prior.FailCount + 1
		next.ConsecutiveFails = prior.ConsecutiveFails + 1
		if next.ConsecutiveFails >= cfg.FailThreshold {
			next.Healthy = false
		}
	}

	next.AvgLatencyMs = NextLatency(prior, rep.LatencyMs, cfg.LatencyAveraging)

	return next
}

// NextLatency folds one latency sample into the average. Non-positive
// samples leave the average untouched.
func NextLatency(prior Snapshot, latencyMs int64, mode LatencyAveraging) int64 {
	if latencyMs <= 0 {
		return prior.AvgLatencyMs
	}
	if mode == LatencyCumulative {
		n := int64(prior.SuccessCount + prior.FailCount)
		return (prior.AvgLatencyMs*n + latencyMs) / (n + 1)
	}
	return (prior.AvgLatencyMs*9 + latencyMs) / 10
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
