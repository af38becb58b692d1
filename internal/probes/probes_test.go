package probes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/hostenv"
	"github.com/xkilldash9x/realmprobe/internal/probes"
	"github.com/xkilldash9x/realmprobe/internal/realm"
	"github.com/xkilldash9x/realmprobe/internal/realm/gojart"
	"github.com/xkilldash9x/realmprobe/internal/tamper"
)

const probeTimeout = 2 * time.Second

func mainRealm(t *testing.T, env hostenv.Environment) realm.Realm {
	t.Helper()
	m, err := gojart.NewManager(zap.NewNop(), env)
	require.NoError(t, err)
	t.Cleanup(m.TeardownAll)

	r, err := m.Main()
	require.NoError(t, err)
	return r
}

func workerRealm(t *testing.T, env hostenv.Environment) realm.Realm {
	t.Helper()
	m, err := gojart.NewManager(zap.NewNop(), env)
	require.NoError(t, err)
	t.Cleanup(m.TeardownAll)

	r, err := m.CreateWorkerRealm(context.Background(),
		`onmessage = function (e) { return e.data; };`, probeTimeout)
	require.NoError(t, err)
	return r
}

func TestCollectProfile_MainRealm(t *testing.T) {
	env := hostenv.NewNative()
	r := mainRealm(t, env)

	profile := probes.CollectProfile(context.Background(), r, probeTimeout)

	assert.Equal(t, schemas.RealmMain, profile.Realm)
	assert.Equal(t, schemas.ProfileVersion, profile.Version)
	require.Len(t, profile.Fields, len(schemas.ProfileFields))

	hc := profile.Fields["hardwareConcurrency"]
	assert.Equal(t, schemas.StatusOK, hc.Status)
	assert.EqualValues(t, env.Snapshot().HardwareConcurrency, hc.Value)

	assert.Equal(t, schemas.StatusOK, profile.Fields["screenWidth"].Status)
	assert.Equal(t, schemas.StatusOK, profile.Fields["timeZone"].Status)
	assert.Equal(t, schemas.StatusOK, profile.Fields["canvasHash"].Status)
	assert.NotEmpty(t, profile.Fields["canvasHash"].Value)
}

func TestCollectProfile_WorkerLacksScreen(t *testing.T) {
	r := workerRealm(t, hostenv.NewNative())

	profile := probes.CollectProfile(context.Background(), r, probeTimeout)

	// Screen geometry is absent in a worker, not wrong.
	assert.Equal(t, schemas.StatusMissing, profile.Fields["screenWidth"].Status)
	assert.Equal(t, schemas.StatusMissing, profile.Fields["availHeight"].Status)
	assert.Equal(t, schemas.StatusMissing, profile.Fields["devicePixelRatio"].Status)

	// Everything that exists in a worker is still collected.
	assert.Equal(t, schemas.StatusOK, profile.Fields["hardwareConcurrency"].Status)
	assert.Equal(t, schemas.StatusOK, profile.Fields["userAgent"].Status)
	assert.Equal(t, schemas.StatusOK, profile.Fields["canvasHash"].Status)
}

func TestCollectProfile_UnusableRealm(t *testing.T) {
	m, err := gojart.NewManager(zap.NewNop(), hostenv.NewNative())
	require.NoError(t, err)
	r, err := m.Main()
	require.NoError(t, err)
	m.TeardownAll()

	profile := probes.CollectProfile(context.Background(), r, probeTimeout)

	// Every field is still present, carrying a non-ok status.
	require.Len(t, profile.Fields, len(schemas.ProfileFields))
	for field, fv := range profile.Fields {
		assert.Equal(t, schemas.StatusUnsupported, fv.Status, "field %s", field)
	}
}

func TestCollectProfile_MatchesAcrossRealms(t *testing.T) {
	env := hostenv.NewNative()
	main := mainRealm(t, env)
	worker := workerRealm(t, env)

	a := probes.CollectProfile(context.Background(), main, probeTimeout)
	b := probes.CollectProfile(context.Background(), worker, probeTimeout)

	// One untampered host presents the same values everywhere the field
	// exists at all.
	assert.Equal(t, a.Fields["hardwareConcurrency"].Value, b.Fields["hardwareConcurrency"].Value)
	assert.Equal(t, a.Fields["userAgent"].Value, b.Fields["userAgent"].Value)
	assert.Equal(t, a.Fields["canvasHash"].Value, b.Fields["canvasHash"].Value)
}

func TestProbeStability_Deterministic(t *testing.T) {
	r := mainRealm(t, hostenv.NewNative())

	result := probes.ProbeStability(context.Background(), r, 5, probeTimeout)

	assert.Equal(t, schemas.StatusOK, result.Status)
	assert.True(t, result.Stable)
	assert.Equal(t, 1, result.UniqueHashes)
	assert.Equal(t, 5, result.Iterations)
	assert.NotEmpty(t, result.Hash)
}

func TestProbeStability_NoisyRenderer(t *testing.T) {
	env := tamper.Wrap(hostenv.NewNative(), tamper.WithNoisyRenderer())
	r := mainRealm(t, env)

	result := probes.ProbeStability(context.Background(), r, 5, probeTimeout)

	assert.Equal(t, schemas.StatusOK, result.Status)
	assert.False(t, result.Stable)
	assert.Greater(t, result.UniqueHashes, 1)
}

func TestProbeStability_ZeroIterations(t *testing.T) {
	r := mainRealm(t, hostenv.NewNative())
	result := probes.ProbeStability(context.Background(), r, 0, probeTimeout)
	assert.Equal(t, schemas.StatusUnsupported, result.Status)
	assert.False(t, result.Stable)
}

func TestCheckInvariants_CleanEnvironment(t *testing.T) {
	r := mainRealm(t, hostenv.NewNative())

	lies, err := probes.CheckInvariants(context.Background(), r, probeTimeout)
	require.NoError(t, err)
	assert.Empty(t, lies)
}

func TestCheckInvariants_RectSkew(t *testing.T) {
	env := tamper.Wrap(hostenv.NewNative(), tamper.WithRectSkew(3))
	r := mainRealm(t, env)

	lies, err := probes.CheckInvariants(context.Background(), r, probeTimeout)
	require.NoError(t, err)
	require.NotEmpty(t, lies)

	tags := make(map[schemas.LieTag]bool)
	for _, lie := range lies {
		tags[lie.Tag] = true
		assert.Equal(t, schemas.RealmMain, lie.Realm)
	}
	assert.True(t, tags[schemas.LieFailedMath], "skewed right edge must break the geometry arithmetic")
}

func TestCheckInvariants_RectNoise(t *testing.T) {
	env := tamper.Wrap(hostenv.NewNative(), tamper.WithRectNoise(0.5))
	r := mainRealm(t, env)

	lies, err := probes.CheckInvariants(context.Background(), r, probeTimeout)
	require.NoError(t, err)
	require.NotEmpty(t, lies)

	tags := make(map[schemas.LieTag]bool)
	for _, lie := range lies {
		tags[lie.Tag] = true
	}
	assert.True(t, tags[schemas.LieFailedUnshift], "per-read rect noise must diverge on re-read")
}

func TestCheckInvariants_NoisyRenderer(t *testing.T) {
	env := tamper.Wrap(hostenv.NewNative(), tamper.WithNoisyRenderer())
	r := mainRealm(t, env)

	lies, err := probes.CheckInvariants(context.Background(), r, probeTimeout)
	require.NoError(t, err)
	require.NotEmpty(t, lies)
	assert.Equal(t, schemas.LieInconsistent, lies[len(lies)-1].Tag)
}

func TestRunTimingProbes_MainRealm(t *testing.T) {
	r := mainRealm(t, hostenv.NewNative())

	cfg := config.ProbesConfig{
		Enabled: []string{
			config.ProbePerfNow, config.ProbeSchedulerLatency,
			config.ProbeAnimationCadence, config.ProbeRoundTrip,
		},
		ProbeTimeout:     5 * time.Second,
		PerfNowSamples:   10,
		SchedulerSamples: 5,
		AnimationFrames:  5,
		RoundTripSamples: 5,
	}

	result := probes.RunTimingProbes(context.Background(), zap.NewNop(), r, cfg)

	assert.Equal(t, schemas.RealmMain, result.Realm)
	assert.Equal(t, schemas.StatusOK, result.PerfNow.Status)
	assert.NotEmpty(t, result.PerfNow.Samples)
	assert.Equal(t, schemas.StatusOK, result.SchedulerLatency.Status)
	assert.Equal(t, schemas.StatusOK, result.AnimationCadence.Status)
	assert.Equal(t, schemas.StatusOK, result.RoundTrip.Status)
	assert.Len(t, result.RoundTrip.Samples, 5)
	assert.Greater(t, result.EstimatedFPS, 0.0)
}

func TestRunTimingProbes_DisabledCategories(t *testing.T) {
	r := mainRealm(t, hostenv.NewNative())

	cfg := config.ProbesConfig{
		Enabled:          []string{config.ProbePerfNow},
		ProbeTimeout:     5 * time.Second,
		PerfNowSamples:   5,
		RoundTripSamples: 5,
	}

	result := probes.RunTimingProbes(context.Background(), zap.NewNop(), r, cfg)

	assert.Equal(t, schemas.StatusOK, result.PerfNow.Status)
	assert.Equal(t, schemas.StatusUnsupported, result.SchedulerLatency.Status)
	assert.Equal(t, schemas.StatusUnsupported, result.AnimationCadence.Status)
	assert.Equal(t, schemas.StatusUnsupported, result.RoundTrip.Status)
	assert.Zero(t, result.EstimatedFPS)
}

func TestRunTimingProbes_WorkerHasNoAnimationFrames(t *testing.T) {
	r := workerRealm(t, hostenv.NewNative())

	cfg := config.ProbesConfig{
		Enabled: []string{
			config.ProbePerfNow, config.ProbeSchedulerLatency,
			config.ProbeAnimationCadence, config.ProbeRoundTrip,
		},
		ProbeTimeout:     5 * time.Second,
		PerfNowSamples:   5,
		SchedulerSamples: 3,
		AnimationFrames:  3,
		RoundTripSamples: 3,
	}

	result := probes.RunTimingProbes(context.Background(), zap.NewNop(), r, cfg)

	assert.Equal(t, schemas.StatusOK, result.PerfNow.Status)
	assert.NotEqual(t, schemas.StatusOK, result.AnimationCadence.Status)
	assert.Zero(t, result.EstimatedFPS)
}
