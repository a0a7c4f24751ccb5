package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Digest returns a stable hash of the plan's semantic content. Limit
// and offset are excluded so pagination does not fragment the agent
// cache; filters and keywords are sorted so equivalent plans produced
// from differently phrased questions collapse to one digest.
func Digest(p Plan) string {
	filters := make([]string, len(p.Filters))
	for i, f := range p.Filters {
		filters[i] = f.Field + "=" + f.Value
	}
	sort.Strings(filters)

	keywords := append([]string(nil), p.Keywords...)
	sort.Strings(keywords)

	canonical := fmt.Sprintf("f:%s|k:%s|wmin:%d|bmin:%d|delta:%d",
		strings.Join(filters, ","),
		strings.Join(keywords, ","),
		p.WhiteMinRating, p.BlackMinRating, p.MaxRatingDelta,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
