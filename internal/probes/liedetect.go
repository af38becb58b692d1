package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// CheckInvariants runs the lie-detection script in one realm and parses the
// violations it found. Geometry arithmetic must hold exactly; pure
// primitives must be deterministic across back-to-back calls. Any violation
// marks the realm as having lied — an API that contradicts itself is
// tampering evidence, a higher-severity signal than natural environment
// variance.
func CheckInvariants(ctx context.Context, r realm.Realm, timeout time.Duration) ([]schemas.LieRecord, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.RunProbe(probeCtx, lieDetectScript())
	if err != nil {
		return nil, fmt.Errorf("lie detection failed in realm %s: %w", r.Kind(), err)
	}

	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("lie detection returned unexpected shape %T", raw)
	}

	records := make([]schemas.LieRecord, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		rec := schemas.LieRecord{Realm: r.Kind()}
		if tag, ok := m["tag"].(string); ok {
			rec.Tag = schemas.LieTag(tag)
		}
		if detail, ok := m["detail"].(string); ok {
			rec.Detail = detail
		}
		if values, ok := m["values"].([]any); ok {
			rec.Values = values
		}
		records = append(records, rec)
	}
	return records, nil
}
