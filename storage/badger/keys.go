package badger

import (
	"strings"

	"github.com/poiesic/kbsync/core"
)

// Key prefixes for different data types. Every entry is keyed by its
// document ID, so a scope is a contiguous key range.
const (
	documentPrefix     = "doc:"
	documentHashPrefix = "dhs:"
	pointPrefix        = "vec:"
	pointHashPrefix    = "vhs:"
	pendingPrefix      = "pnd:"
)

func makeKey(prefix string, id core.DocID) []byte {
	return []byte(prefix + string(id))
}

// makeScopePrefix generates the key prefix of every entry in a scope.
// Format: prefix:kind/DOMAIN/
func makeScopePrefix(prefix string, scope core.Scope) []byte {
	return []byte(prefix + scope.String() + "/")
}

// checkCursor rejects cursors that cannot have come from a scan of scope.
// Cursors are natural keys, so they never contain a slash.
func checkCursor(cursor string) bool {
	return !strings.Contains(cursor, "/")
}

// scopeID rebuilds a document ID from a scope and the key suffix a page
// visit reports.
func scopeID(scope core.Scope, key string) core.DocID {
	return core.NewDocID(scope.Kind, scope.Domain, key)
}
