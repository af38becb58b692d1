package gojart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

const echoWorkerScript = `onmessage = function (e) { return e.data; };`

func TestCreateSubRealm_BecomesReady(t *testing.T) {
	m := newManager(t)

	sub, err := m.CreateSubRealm(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, schemas.RealmSubDocument, sub.Kind())
	assert.Equal(t, schemas.RealmReady, sub.State())
	assert.True(t, sub.HasRenderLoop())

	// Once ready the document must report complete on every read.
	state, err := sub.RunProbe(context.Background(), `function (lab) { return document.readyState; }`)
	require.NoError(t, err)
	assert.Equal(t, "complete", state)
}

func TestCreateSubRealm_ReadinessTimeout(t *testing.T) {
	m := newManager(t)

	// A zero-ish timeout expires before the document can become ready.
	_, err := m.CreateSubRealm(context.Background(), time.Nanosecond)
	require.Error(t, err)

	var failure *realm.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, schemas.RealmSubDocument, failure.Kind)
}

func TestCreateWorkerRealm_EchoLiveness(t *testing.T) {
	m := newManager(t)

	worker, err := m.CreateWorkerRealm(context.Background(), echoWorkerScript, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, schemas.RealmWorker, worker.Kind())
	assert.Equal(t, schemas.RealmReady, worker.State())
	assert.False(t, worker.HasRenderLoop())

	echo, err := worker.Post(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", echo)
}

func TestCreateWorkerRealm_NoScreenSurface(t *testing.T) {
	m := newManager(t)

	worker, err := m.CreateWorkerRealm(context.Background(), echoWorkerScript, 2*time.Second)
	require.NoError(t, err)

	result, err := worker.RunProbe(context.Background(), `function (lab) {
		return { screen: typeof screen, doc: typeof document, rect: lab.rect() };
	}`)
	require.NoError(t, err)

	obj, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "undefined", obj["screen"])
	assert.Equal(t, "undefined", obj["doc"])
	assert.Nil(t, obj["rect"])
}

func TestCreateWorkerRealm_BrokenScript(t *testing.T) {
	m := newManager(t)

	_, err := m.CreateWorkerRealm(context.Background(), `throw new Error("boot failure");`, 2*time.Second)
	require.Error(t, err)

	var failure *realm.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, schemas.RealmWorker, failure.Kind)
}

func TestCreateWorkerRealm_SilentWorker(t *testing.T) {
	m := newManager(t)

	// A handler that swallows the ping breaks the liveness echo.
	_, err := m.CreateWorkerRealm(context.Background(),
		`onmessage = function (e) { return "not-the-ping"; };`, 2*time.Second)
	require.Error(t, err)

	var failure *realm.Failure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Reason, "echo")
}

func TestTeardownAll_CoversEveryRealm(t *testing.T) {
	m := newManager(t)

	sub, err := m.CreateSubRealm(context.Background(), 2*time.Second)
	require.NoError(t, err)
	worker, err := m.CreateWorkerRealm(context.Background(), echoWorkerScript, 2*time.Second)
	require.NoError(t, err)

	m.TeardownAll()
	assert.Equal(t, schemas.RealmTornDown, sub.State())
	assert.Equal(t, schemas.RealmTornDown, worker.State())
}
