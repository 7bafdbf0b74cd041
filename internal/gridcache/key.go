package gridcache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/plume-labs/plume/internal/model"
)

// maxKeyLen bounds cache keys so they stay usable as external-store keys;
// anything longer is content-hashed.
const maxKeyLen = 200

// Key derives the deterministic cache key for a grid spec. Bbox corners are
// rounded to four decimals (~11 m) so that float jitter from panning
// clients still hits; a zero timestamp keys as "latest".
func Key(spec model.GridSpec) string {
	ts := "latest"
	if !spec.Timestamp.IsZero() {
		ts = spec.Timestamp.UTC().Format(time.RFC3339)
	}
	key := fmt.Sprintf("grid:%s:%s:%d:%.4f,%.4f,%.4f,%.4f:%s",
		ContractVersion, spec.Method, spec.ResolutionM,
		spec.BBox.West, spec.BBox.South, spec.BBox.East, spec.BBox.North,
		ts,
	)
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		return fmt.Sprintf("grid:%s:h:%x", ContractVersion, sum)
	}
	return key
}
