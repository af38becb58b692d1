package probes

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// ProbeStability performs the identical deterministic draw `iterations`
// times inside one realm and checks for byte-identical output. Divergent
// hashes indicate non-deterministic rendering, a strong anomaly on its own,
// independent of any cross-realm comparison.
func ProbeStability(ctx context.Context, r realm.Realm, iterations int, timeout time.Duration) schemas.StabilityResult {
	result := schemas.StabilityResult{
		Realm:      r.Kind(),
		Iterations: iterations,
	}
	if iterations < 1 {
		result.Status = schemas.StatusUnsupported
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.RunProbe(probeCtx, stabilityScript(iterations))
	if err != nil {
		result.Status = schemas.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			result.Status = schemas.StatusTimeout
		}
		return result
	}

	hashes, err := toStrings(raw)
	if err != nil || len(hashes) == 0 {
		result.Status = schemas.StatusError
		return result
	}

	unique := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		unique[h] = struct{}{}
	}

	result.Status = schemas.StatusOK
	result.Hash = hashes[0]
	result.UniqueHashes = len(unique)
	result.Stable = len(unique) == 1
	return result
}
