// Package checker probes pool entries through their own transport and feeds
// the outcomes back into the scoring pipeline. It is the self-driven
// counterpart to the external feedback endpoint: both paths converge on the
// same report transition.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/fetch"
	"proxy-gateway/pkg/models"
	"proxy-gateway/pkg/scoring"

	"github.com/spf13/viper"
)

const defaultWorkers = 8

// Options controls one check run.
type Options struct {
	// ProbeURL is fetched through each proxy. Defaults to checker.url from
	// config, then to a plain generate_204 endpoint.
	ProbeURL string
	// TimeoutSec bounds each probe (default checker.timeout, then 10).
	TimeoutSec int
	// Workers is the probe concurrency (default checker.workers, then 8).
	Workers int
	// OnlyUnhealthy restricts the run to rows currently marked unhealthy,
	// giving them a chance to be revived.
	OnlyUnhealthy bool
	// Scoring is the transition config applied to each outcome.
	Scoring scoring.Config
}

type outcome struct {
	proxy  models.Proxy
	report scoring.Report
}

// Check probes every candidate proxy and applies the results.
func Check(ctx context.Context, db *database.DB, opts Options) error {
	if opts.ProbeURL == "" {
		opts.ProbeURL = viper.GetString("checker.url")
	}
	if opts.ProbeURL == "" {
		opts.ProbeURL = "http://www.gstatic.com/generate_204"
	}
	if opts.TimeoutSec == 0 {
		opts.TimeoutSec = viper.GetInt("checker.timeout")
	}
	if opts.Workers == 0 {
		opts.Workers = viper.GetInt("checker.workers")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	proxies, err := db.ListProxies(ctx, opts.OnlyUnhealthy)
	if err != nil {
		return fmt.Errorf("failed to get proxies: %v", err)
	}
	if len(proxies) == 0 {
		slog.Info("No proxies to check")
		return nil
	}

	jobs := make(chan models.Proxy, len(proxies))
	results := make(chan outcome, len(proxies))

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go worker(ctx, &wg, jobs, results, opts)
	}

	// Send jobs to workers
	for _, proxy := range proxies {
		jobs <- proxy
	}
	close(jobs)

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results and apply them through the feedback transition
	var succeeded, failed int
	for res := range results {
		if res.report.Status == scoring.StatusSuccess {
			succeeded++
		} else {
			failed++
		}
		if err := apply(ctx, db, res, opts.Scoring); err != nil {
			slog.Error("Error applying check result", "proxyString", res.proxy.ProxyString, "error", err)
		}
	}

	slog.Info("Check run completed", "total", len(proxies), "succeeded", succeeded, "failed", failed)
	return nil
}

func worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan models.Proxy, results chan<- outcome, opts Options) {
	defer wg.Done()
	for proxy := range jobs {
		rep := probe(ctx, &proxy, opts)
		slog.Debug("Proxy probed", "proxyString", proxy.ProxyString, "status", rep.Status, "latencyMs", rep.LatencyMs)
		results <- outcome{proxy: proxy, report: rep}
	}
}

// probe fetches the probe URL through the proxy and classifies the outcome.
func probe(ctx context.Context, proxy *models.Proxy, opts Options) scoring.Report {
	result, err := fetch.Fetch(ctx, opts.ProbeURL, fetch.Options{
		Transport:  proxy.ProxyString,
		TimeoutSec: opts.TimeoutSec,
	})
	if err != nil {
		return scoring.Report{Status: classifyError(err)}
	}

	rep := scoring.Report{LatencyMs: result.Latency.Milliseconds()}
	switch code := result.Response.StatusCode; {
	case code == 403 || code == 429:
		rep.Status = scoring.StatusBlocked
	case code >= 200 && code < 400:
		rep.Status = scoring.StatusSuccess
	default:
		rep.Status = scoring.StatusError
	}
	return rep
}

func classifyError(err error) scoring.Status {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return scoring.StatusTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return scoring.StatusTimeout
	}
	return scoring.StatusError
}

func apply(ctx context.Context, db *database.DB, res outcome, cfg scoring.Config) error {
	err := db.ApplyReport(ctx, res.proxy.ID, res.report, cfg)
	if err != nil {
		return fmt.Errorf("failed to apply report: %v", err)
	}

	entry := &models.UsageLog{
		ProxyID:      res.proxy.ID,
		TargetDomain: "healthcheck",
		Status:       string(res.report.Status),
		LatencyMs:    res.report.LatencyMs,
	}
	if err := db.InsertUsageLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert usage log: %v", err)
	}
	return nil
}
