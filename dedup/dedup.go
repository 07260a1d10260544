// Package dedup collapses records that share a natural key.
package dedup

import (
	"github.com/poiesic/kbsync/core"
)

// Deduplicate keeps one record per document ID. The survivor is the record
// with the latest processed_at; ties go to the more complete record
// (fewer imputed fields, no synthetic key), then to the one that came
// later in the input. Survivors are returned in the order their key first
// appeared; dropped holds the losers. Running it on its own output changes
// nothing.
func Deduplicate(records []core.Record) (kept []core.Record, dropped []core.Record) {
	index := make(map[core.DocID]int, len(records))
	for _, rec := range records {
		id := core.IDOf(rec)
		i, seen := index[id]
		if !seen {
			index[id] = len(kept)
			kept = append(kept, rec)
			continue
		}
		if wins(rec, kept[i]) {
			dropped = append(dropped, kept[i])
			kept[i] = rec
		} else {
			dropped = append(dropped, rec)
		}
	}
	return kept, dropped
}

// wins reports whether challenger replaces incumbent. Later input position
// is the final tiebreak, so equal records resolve to the challenger.
func wins(challenger, incumbent core.Record) bool {
	c, i := &challenger.Common().Lineage, &incumbent.Common().Lineage
	if !c.ProcessedAt.Equal(i.ProcessedAt) {
		return c.ProcessedAt.After(i.ProcessedAt)
	}
	if c.Completeness() != i.Completeness() {
		return c.Completeness() > i.Completeness()
	}
	return true
}
