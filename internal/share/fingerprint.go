package share

import (
	"slices"
	"strings"
)

// Fingerprint derives an order independent digest of a share's file id set.
// Repeated ids count once. Remote ids are numeric, so the separator cannot occur
// inside an id.
func Fingerprint(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
