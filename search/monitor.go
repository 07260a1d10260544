package search

import (
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// SearchMonitor provides hooks to observe a search.
type SearchMonitor interface {
	Start(query string)
	AfterQuery(matches []storage.Match)
	AfterHydration(docs []*core.Document)
	SkippedOrphan(id core.DocID)
	Finish(hits []Hit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                    {}
func (n *noopMonitor) AfterQuery(_ []storage.Match)      {}
func (n *noopMonitor) AfterHydration(_ []*core.Document) {}
func (n *noopMonitor) SkippedOrphan(_ core.DocID)        {}
func (n *noopMonitor) Finish(_ []Hit)                    {}
