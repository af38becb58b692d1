// Package probes implements the per-realm experiment suites: timing
// measurements, profile collection, rendering stability, and invariant (lie)
// checks. Every probe isolates its own failure into its own result slot; a
// failing probe never aborts a sibling or the run.
package probes

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/realm"
	"github.com/xkilldash9x/realmprobe/internal/stats"
)

// RunTimingProbes runs the four timing experiments in one realm. Probes run
// concurrently with independent timeouts; one that never resolves is
// abandoned at its deadline and contributes a timeout marker instead of
// blocking the suite.
func RunTimingProbes(ctx context.Context, logger *zap.Logger, r realm.Realm, cfg config.ProbesConfig) schemas.TimingResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("timing").With(zap.String("realm", string(r.Kind())))

	result := schemas.TimingResult{Realm: r.Kind()}

	var wg sync.WaitGroup
	run := func(name string, slot *schemas.SampleSeries, fn func(context.Context) (schemas.SampleSeries, error)) {
		defer wg.Done()
		if !cfg.IsEnabled(name) {
			*slot = unsupportedSeries("probe category disabled")
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()

		series, err := fn(probeCtx)
		if err != nil {
			*slot = failedSeries(probeCtx, err)
			log.Debug("Timing probe failed",
				zap.String("probe", name),
				zap.String("status", string(slot.Status)),
				zap.Error(err))
			return
		}
		*slot = series
	}

	wg.Add(4)
	go run(config.ProbePerfNow, &result.PerfNow, func(c context.Context) (schemas.SampleSeries, error) {
		return runSampleProbe(c, r, perfNowProbe(cfg.PerfNowSamples), false)
	})
	go run(config.ProbeSchedulerLatency, &result.SchedulerLatency, func(c context.Context) (schemas.SampleSeries, error) {
		return runSampleProbe(c, r, schedulerLatencyProbe(cfg.SchedulerSamples), true)
	})
	go run(config.ProbeAnimationCadence, &result.AnimationCadence, func(c context.Context) (schemas.SampleSeries, error) {
		return runAnimationProbe(c, r, cfg.AnimationFrames)
	})
	go run(config.ProbeRoundTrip, &result.RoundTrip, func(c context.Context) (schemas.SampleSeries, error) {
		return runRoundTripProbe(c, r, cfg.RoundTripSamples)
	})
	wg.Wait()

	if result.AnimationCadence.Status == schemas.StatusOK && result.AnimationCadence.Stats.Mean > 0 {
		result.EstimatedFPS = 1000 / result.AnimationCadence.Stats.Mean
	}
	return result
}

// runSampleProbe executes a probe whose result is a numeric sample array.
func runSampleProbe(ctx context.Context, r realm.Realm, source string, async bool) (schemas.SampleSeries, error) {
	var (
		raw any
		err error
	)
	if async {
		raw, err = r.RunAsyncProbe(ctx, source)
	} else {
		raw, err = r.RunProbe(ctx, source)
	}
	if err != nil {
		return schemas.SampleSeries{}, err
	}
	samples, err := toFloats(raw)
	if err != nil {
		return schemas.SampleSeries{}, err
	}
	return stats.Series(samples), nil
}

// runAnimationProbe is runSampleProbe with the no-render-loop escape: realms
// without frame callbacks resolve null, which is unsupported, not an error.
func runAnimationProbe(ctx context.Context, r realm.Realm, frames int) (schemas.SampleSeries, error) {
	if !r.HasRenderLoop() {
		return unsupportedSeries("realm has no rendering loop"), nil
	}
	raw, err := r.RunAsyncProbe(ctx, animationCadenceProbe(frames))
	if err != nil {
		return schemas.SampleSeries{}, err
	}
	if raw == nil {
		return unsupportedSeries("realm has no rendering loop"), nil
	}
	samples, err := toFloats(raw)
	if err != nil {
		return schemas.SampleSeries{}, err
	}
	return stats.Series(samples), nil
}

// runRoundTripProbe measures host-to-realm message latency from the host
// side of the channel.
func runRoundTripProbe(ctx context.Context, r realm.Realm, iterations int) (schemas.SampleSeries, error) {
	samples := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if _, err := r.Post(ctx, i); err != nil {
			return schemas.SampleSeries{}, err
		}
		samples = append(samples, float64(time.Since(start).Nanoseconds())/1e6)
	}
	return stats.Series(samples), nil
}

func unsupportedSeries(detail string) schemas.SampleSeries {
	return schemas.SampleSeries{Status: schemas.StatusUnsupported, Detail: detail}
}

// failedSeries classifies a probe error: deadline expiry is a timeout
// marker, everything else an error marker.
func failedSeries(ctx context.Context, err error) schemas.SampleSeries {
	status := schemas.StatusError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = schemas.StatusTimeout
	}
	return schemas.SampleSeries{Status: status, Detail: err.Error()}
}
