package poller

import "github.com/tubedrift/tubedrift/pkg/types"

// Changed reports whether fresh differs from old. Only the ordered identity
// keys count: a reorder or a length change is a change, an edited title is
// not.
func Changed(old, fresh []types.ResultItem) bool {
	return !types.SameIdentity(old, fresh)
}
