package probes

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// CollectProfile gathers the fixed, versioned field schema from one realm.
// Every field of schemas.ProfileFields appears in the result: values the
// realm could not produce carry missing/error/unsupported statuses instead
// of being dropped, because dropped fields would corrupt the comparison
// denominators downstream.
func CollectProfile(ctx context.Context, r realm.Realm, timeout time.Duration) schemas.Profile {
	profile := schemas.Profile{
		Realm:   r.Kind(),
		Version: schemas.ProfileVersion,
		Fields:  make(map[string]schemas.FieldValue, len(schemas.ProfileFields)),
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.RunProbe(probeCtx, collectorScript())
	if err != nil {
		status := schemas.StatusUnsupported
		if errors.Is(err, context.DeadlineExceeded) {
			status = schemas.StatusTimeout
		}
		for _, field := range schemas.ProfileFields {
			profile.Fields[field] = schemas.FieldValue{Status: status}
		}
		return profile
	}

	collected, _ := raw.(map[string]any)
	for _, field := range schemas.ProfileFields {
		profile.Fields[field] = parseFieldValue(collected[field])
	}
	return profile
}

// parseFieldValue maps the attempt-combinator outcome of one field read.
func parseFieldValue(v any) schemas.FieldValue {
	entry, ok := v.(map[string]any)
	if !ok {
		// The collector script did not produce this field at all; treat as
		// missing, never as a silent match.
		return schemas.FieldValue{Status: schemas.StatusMissing}
	}
	switch entry["status"] {
	case "ok":
		return schemas.FieldValue{Status: schemas.StatusOK, Value: entry["value"]}
	case "error":
		return schemas.FieldValue{Status: schemas.StatusError}
	default:
		return schemas.FieldValue{Status: schemas.StatusMissing}
	}
}
