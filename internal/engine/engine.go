// Package engine orchestrates a detection run: realm creation, concurrent
// per-realm probe fan-out, result fan-in, coherence scoring, risk
// classification, and guaranteed realm teardown.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/compare"
	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/probes"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// Phase is the engine's run state. Transitions only move forward.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRealmsCreating
	PhaseProbing
	PhaseAggregating
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRealmsCreating:
		return "realmsCreating"
	case PhaseProbing:
		return "probing"
	case PhaseAggregating:
		return "aggregating"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// workerScript is the in-memory body loaded into worker realms. The echo
// handler doubles as the liveness probe target and the round-trip endpoint.
const workerScript = `
onmessage = function (e) { return e.data; };
`

// Detector runs cross-realm coherence detection against a realm manager.
// It holds no state between runs beyond the phase of the current one; each
// invocation is independent.
type Detector struct {
	cfg     config.DetectorConfig
	probes  config.ProbesConfig
	logger  *zap.Logger
	manager realm.Manager
	phase   atomic.Int32
}

// New builds a Detector. The manager is constructed by the caller so the
// engine carries no backend knowledge and no global state.
func New(logger *zap.Logger, cfg config.DetectorConfig, manager realm.Manager) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		probes:  cfg.Probes,
		logger:  logger.Named("engine"),
		manager: manager,
	}
}

// Phase reports the engine's current run phase.
func (d *Detector) Phase() Phase {
	return Phase(d.phase.Load())
}

func (d *Detector) transition(to Phase) {
	from := Phase(d.phase.Swap(int32(to)))
	d.logger.Debug("Phase transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// realmOutcome collects everything probed from one realm.
type realmOutcome struct {
	realm     realm.Realm
	timing    schemas.TimingResult
	profile   schemas.Profile
	stability schemas.StabilityResult
	lies      []schemas.LieRecord
}

// Run executes one full detection. It always returns a DetectionResult —
// partial failure degrades individual result slots to unsupported/timeout
// markers, and only an unusable primary realm fails the run as a whole.
// Every realm created during the run is torn down before Run returns, on
// every exit path.
func (d *Detector) Run(ctx context.Context) (result *schemas.DetectionResult) {
	// result is a named return so the recover path below hands the caller
	// whatever was populated before the panic instead of nil.
	result = &schemas.DetectionResult{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Timing:      make(map[string]schemas.TimingResult),
		Profiles:    make(map[string]schemas.Profile),
		OverallRisk: schemas.RiskNA,
	}
	log := d.logger.With(zap.String("run_id", result.RunID))

	defer func() {
		if rec := recover(); rec != nil {
			// The engine is total: a panic anywhere in probing must still
			// yield a result to the caller.
			log.Error("Recovered panic during detection run", zap.Any("panic", rec))
			result.OverallRisk = schemas.RiskNA
			d.transition(PhaseFailed)
		}
		d.manager.TeardownAll()
		result.Duration = time.Since(result.StartedAt)
	}()

	// -- realmsCreating --
	d.transition(PhaseRealmsCreating)

	primary, err := d.manager.Main()
	if err != nil {
		log.Error("Primary realm unusable, failing run", zap.Error(err))
		result.RealmFailures = append(result.RealmFailures, schemas.RealmFailure{
			Kind:   schemas.RealmMain,
			Reason: err.Error(),
		})
		d.transition(PhaseFailed)
		return result
	}

	realms := []realm.Realm{primary}

	if sub, err := d.manager.CreateSubRealm(ctx, d.cfg.RealmTimeout); err != nil {
		log.Warn("Sub-document realm unavailable, degrading", zap.Error(err))
		result.RealmFailures = append(result.RealmFailures, failureOf(schemas.RealmSubDocument, err))
	} else {
		realms = append(realms, sub)
	}

	for i := 0; i < d.cfg.WorkerRealms; i++ {
		if w, err := d.manager.CreateWorkerRealm(ctx, workerScript, d.cfg.RealmTimeout); err != nil {
			log.Warn("Worker realm unavailable, degrading", zap.Int("index", i), zap.Error(err))
			result.RealmFailures = append(result.RealmFailures, failureOf(schemas.RealmWorker, err))
		} else {
			realms = append(realms, w)
		}
	}

	// -- probing --
	d.transition(PhaseProbing)

	outcomes := make([]realmOutcome, len(realms))
	var realmWG sync.WaitGroup
	for i, r := range realms {
		realmWG.Add(1)
		go func(i int, r realm.Realm) {
			defer realmWG.Done()
			outcomes[i] = d.probeRealm(ctx, log, r)
		}(i, r)
	}
	realmWG.Wait()

	// -- aggregating --
	d.transition(PhaseAggregating)

	// Labels give every realm its own result slot; two workers share a kind
	// but must not share a key.
	ordinals := make(map[schemas.RealmKind]int, len(outcomes))
	label := func(kind schemas.RealmKind) string {
		n := ordinals[kind]
		ordinals[kind]++
		return schemas.RealmLabel(kind, n)
	}

	reference := outcomes[0]
	refKey := label(reference.realm.Kind())
	result.Timing[refKey] = reference.timing
	result.Profiles[refKey] = reference.profile
	result.Stability = append(result.Stability, reference.stability)
	result.Lies = append(result.Lies, reference.lies...)

	for _, out := range outcomes[1:] {
		key := label(out.realm.Kind())
		result.Timing[key] = out.timing
		result.Profiles[key] = out.profile
		result.Stability = append(result.Stability, out.stability)
		result.Lies = append(result.Lies, out.lies...)
		result.Comparisons = append(result.Comparisons,
			compare.Compare(reference.profile, out.profile, schemas.ProfileFields))
	}

	result.Lied = len(result.Lies) > 0
	result.OverallRisk = classifyRisk(result)

	d.transition(PhaseDone)
	log.Info("Detection run complete",
		zap.String("overall_risk", string(result.OverallRisk)),
		zap.Int("coherence", result.MinCoherence()),
		zap.Int("mismatches", result.MismatchCount()),
		zap.Int("lies", len(result.Lies)),
		zap.Duration("duration", time.Since(result.StartedAt)))
	return result
}

// probeRealm fans the four probe suites out concurrently inside one realm.
// Their relative completion order is unconstrained; this function returns
// only when all of them have resolved or hit their own timeouts.
func (d *Detector) probeRealm(ctx context.Context, log *zap.Logger, r realm.Realm) realmOutcome {
	out := realmOutcome{realm: r}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		out.timing = probes.RunTimingProbes(ctx, log, r, d.probes)
	}()
	go func() {
		defer wg.Done()
		out.profile = probes.CollectProfile(ctx, r, d.probes.ProbeTimeout)
	}()
	go func() {
		defer wg.Done()
		out.stability = probes.ProbeStability(ctx, r, d.cfg.StabilityIterations, d.probes.ProbeTimeout)
	}()
	go func() {
		defer wg.Done()
		lies, err := probes.CheckInvariants(ctx, r, d.probes.ProbeTimeout)
		if err != nil {
			// A failed lie check is not itself a lie.
			log.Debug("Invariant check did not complete",
				zap.String("realm", string(r.Kind())), zap.Error(err))
			return
		}
		out.lies = lies
	}()
	wg.Wait()
	return out
}

// classifyRisk applies the ordered severity thresholds. Lies outrank plain
// coherence mismatches: a mismatch can be natural environment variance, but
// an API contradicting itself is tampering.
func classifyRisk(result *schemas.DetectionResult) schemas.Risk {
	lied := len(result.Lies) > 0
	unstable := result.UnstableCount() > 0
	mismatches := result.MismatchCount()

	switch {
	case lied && unstable:
		return schemas.RiskCritical
	case lied:
		return schemas.RiskHigh
	case unstable:
		return schemas.RiskHigh
	case mismatches > 0:
		return schemas.RiskMedium
	default:
		return schemas.RiskLow
	}
}

func failureOf(kind schemas.RealmKind, err error) schemas.RealmFailure {
	f := schemas.RealmFailure{Kind: kind}
	if err != nil {
		f.Reason = err.Error()
	}
	return f
}
