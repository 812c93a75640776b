package scoring

import "testing"

func TestApply(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		prior    Snapshot
		report   Report
		expected Snapshot
	}{
		{
			name:   "success increments score and resets streak",
			prior:  Snapshot{Score: 50, Healthy: true, ConsecutiveFails: 3, SuccessCount: 10, FailCount: 5, AvgLatencyMs: 1000},
			report: Report{Status: StatusSuccess, LatencyMs: 500},
			expected: Snapshot{
				Score: 51, Healthy: true, ConsecutiveFails: 0,
				SuccessCount: 11, FailCount: 5, AvgLatencyMs: 950,
			},
		},
		{
			name:   "blocked at threshold flips unhealthy",
			prior:  Snapshot{Score: 50, Healthy: true, ConsecutiveFails: 9, SuccessCount: 10, FailCount: 9},
			report: Report{Status: StatusBlocked},
			expected: Snapshot{
				Score: 45, Healthy: false, ConsecutiveFails: 10,
				SuccessCount: 10, FailCount: 10,
			},
		},
		{
			name:   "success revives an unhealthy record",
			prior:  Snapshot{Score: 45, Healthy: false, ConsecutiveFails: 10, SuccessCount: 10, FailCount: 10},
			report: Report{Status: StatusSuccess},
			expected: Snapshot{
				Score: 46, Healthy: true, ConsecutiveFails: 0,
				SuccessCount: 11, FailCount: 10,
			},
		},
		{
			name:   "timeout below threshold stays healthy",
			prior:  Snapshot{Score: 20, Healthy: true, ConsecutiveFails: 2, FailCount: 2},
			report: Report{Status: StatusTimeout},
			expected: Snapshot{
				Score: 18, Healthy: true, ConsecutiveFails: 3, FailCount: 3,
			},
		},
		{
			name:     "score clamps at zero",
			prior:    Snapshot{Score: 3, Healthy: true},
			report:   Report{Status: StatusCaptcha},
			expected: Snapshot{Score: 0, Healthy: true, ConsecutiveFails: 1, FailCount: 1},
		},
		{
			name:     "score clamps at one hundred",
			prior:    Snapshot{Score: 100, Healthy: true},
			report:   Report{Status: StatusSuccess},
			expected: Snapshot{Score: 100, Healthy: true, SuccessCount: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.prior, tt.report, cfg)
			if got != tt.expected {
				t.Errorf("Apply() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestApplyFailThreshold(t *testing.T) {
	cfg := Config{FailThreshold: 3, LatencyAveraging: LatencyEMA}

	prior := Snapshot{Score: 80, Healthy: true, ConsecutiveFails: 2, FailCount: 2}
	got := Apply(prior, Report{Status: StatusError}, cfg)

	if got.Healthy {
		t.Errorf("expected unhealthy after reaching configured threshold, got %+v", got)
	}
	if got.ConsecutiveFails != 3 {
		t.Errorf("ConsecutiveFails = %d, want 3", got.ConsecutiveFails)
	}
}

func TestScoreDelta(t *testing.T) {
	tests := []struct {
		status   Status
		expected int
	}{
		{StatusSuccess, 1},
		{StatusBlocked, -5},
		{StatusCaptcha, -5},
		{StatusTimeout, -2},
		{StatusSlow, -2},
		{StatusError, -2},
	}

	for _, tt := range tests {
		if got := ScoreDelta(tt.status); got != tt.expected {
			t.Errorf("ScoreDelta(%s) = %d, want %d", tt.status, got, tt.expected)
		}
	}
}

func TestNextLatency(t *testing.T) {
	tests := []struct {
		name     string
		prior    Snapshot
		sample   int64
		mode     LatencyAveraging
		expected int64
	}{
		{
			name:     "ema folds one tenth of the sample",
			prior:    Snapshot{AvgLatencyMs: 1000},
			sample:   2000,
			mode:     LatencyEMA,
			expected: 1100,
		},
		{
			name:     "ema from zero average",
			prior:    Snapshot{},
			sample:   1500,
			mode:     LatencyEMA,
			expected: 150,
		},
		{
			name:     "cumulative is a running mean",
			prior:    Snapshot{AvgLatencyMs: 100, SuccessCount: 3, FailCount: 1},
			sample:   600,
			mode:     LatencyCumulative,
			expected: 200,
		},
		{
			name:     "non-positive sample leaves average untouched",
			prior:    Snapshot{AvgLatencyMs: 400},
			sample:   0,
			mode:     LatencyEMA,
			expected: 400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextLatency(tt.prior, tt.sample, tt.mode); got != tt.expected {
				t.Errorf("NextLatency() = %d, want %d", got, tt.expected)
			}
		})
	}
}
