// Package report flattens a DetectionResult into the metric mapping the
// reporting layer consumes: one entry per metric, each a
// value/description/risk triple, plus the _rawResults escape hatch for
// research tooling.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// Flatten converts a detection result into the flat report shape. The
// metric set is stable for a given result shape so downstream consumers can
// key off names.
func Flatten(result *schemas.DetectionResult, includeRaw bool) schemas.Report {
	metrics := map[string]schemas.Metric{
		"overallRisk": {
			Value:       string(result.OverallRisk),
			Description: "Aggregate risk classification for this detection run",
			Risk:        result.OverallRisk,
		},
		"collectionDuration": {
			Value:       result.Duration.Milliseconds(),
			Description: "Total detection run duration in milliseconds",
			Risk:        schemas.RiskNA,
		},
		"lied": {
			Value:       result.Lied,
			Description: "Whether any realm violated an API invariant",
			Risk:        boolRisk(result.Lied, schemas.RiskHigh),
		},
		"lieCount": {
			Value:       len(result.Lies),
			Description: "Number of invariant violations detected across all realms",
			Risk:        boolRisk(len(result.Lies) > 0, schemas.RiskHigh),
		},
		"realmFailures": {
			Value:       len(result.RealmFailures),
			Description: "Number of realms that could not be stood up",
			Risk:        schemas.RiskNA,
		},
	}

	coherence := result.MinCoherence()
	metrics["coherenceScore"] = schemas.Metric{
		Value:       coherence,
		Description: "Lowest percentage of comparable profile fields agreeing across realms",
		Risk:        coherenceRisk(coherence),
	}
	metrics["profileMismatches"] = schemas.Metric{
		Value:       mismatchedFields(result),
		Description: "Profile fields whose values contradict across realms",
		Risk:        boolRisk(result.MismatchCount() > 0, schemas.RiskMedium),
	}

	// Stability entries are in realm creation order, so indexing per kind
	// reproduces the labels the engine used for timing and profiles.
	ordinals := map[schemas.RealmKind]int{}
	for _, s := range result.Stability {
		name := "stability." + schemas.RealmLabel(s.Realm, ordinals[s.Realm])
		ordinals[s.Realm]++
		switch s.Status {
		case schemas.StatusOK:
			metrics[name] = schemas.Metric{
				Value:       s.Stable,
				Description: fmt.Sprintf("Deterministic rendering over %d iterations in the %s realm", s.Iterations, s.Realm),
				Risk:        boolRisk(!s.Stable, schemas.RiskHigh),
			}
		default:
			metrics[name] = schemas.Metric{
				Value:       string(s.Status),
				Description: fmt.Sprintf("Rendering stability probe outcome in the %s realm", s.Realm),
				Risk:        schemas.RiskNA,
			}
		}
	}

	for label, timing := range result.Timing {
		addTimingMetrics(metrics, label, timing)
	}

	rep := schemas.Report{Metrics: metrics}
	if includeRaw {
		rep.RawResults = result
	}
	return rep
}

func addTimingMetrics(metrics map[string]schemas.Metric, label string, timing schemas.TimingResult) {
	series := map[string]schemas.SampleSeries{
		"perfNowDelta":     timing.PerfNow,
		"schedulerLatency": timing.SchedulerLatency,
		"animationCadence": timing.AnimationCadence,
		"roundTrip":        timing.RoundTrip,
	}
	for probe, s := range series {
		name := fmt.Sprintf("timing.%s.%s", label, probe)
		if s.Status != schemas.StatusOK {
			metrics[name] = schemas.Metric{
				Value:       string(s.Status),
				Description: fmt.Sprintf("%s probe outcome in the %s realm", probe, label),
				Risk:        schemas.RiskNA,
			}
			continue
		}
		metrics[name] = schemas.Metric{
			Value:       fmt.Sprintf("mean=%.4fms stddev=%.4fms median=%.4fms", s.Stats.Mean, s.Stats.StdDev, s.Stats.Median),
			Description: fmt.Sprintf("%s distribution over %d samples in the %s realm", probe, s.Stats.Count, label),
			Risk:        schemas.RiskNA,
		}
	}
	if timing.EstimatedFPS > 0 {
		metrics[fmt.Sprintf("timing.%s.estimatedFps", label)] = schemas.Metric{
			Value:       timing.EstimatedFPS,
			Description: fmt.Sprintf("Refresh rate estimated from frame cadence in the %s realm", label),
			Risk:        schemas.RiskNA,
		}
	}
}

func mismatchedFields(result *schemas.DetectionResult) string {
	seen := map[string]struct{}{}
	var fields []string
	for _, c := range result.Comparisons {
		for _, f := range c.Mismatches {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				fields = append(fields, f)
			}
		}
	}
	sort.Strings(fields)
	if len(fields) == 0 {
		return "none"
	}
	return strings.Join(fields, ",")
}

func boolRisk(anomalous bool, risk schemas.Risk) schemas.Risk {
	if anomalous {
		return risk
	}
	return schemas.RiskLow
}

func coherenceRisk(score int) schemas.Risk {
	switch {
	case score >= 100:
		return schemas.RiskLow
	case score >= 80:
		return schemas.RiskMedium
	default:
		return schemas.RiskHigh
	}
}
