package hierarchy

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/chirino/conversation-service/internal/model"
)

// BranchSummary is one direct branch of a root entry. HasChildren marks
// branches that have descendants of their own, which this view does not
// render (one level of nesting only).
type BranchSummary struct {
	model.Conversation
	HasChildren bool `json:"hasChildren"`
}

// MarshalJSON adds the derived isBranch field.
func (b BranchSummary) MarshalJSON() ([]byte, error) {
	type Alias BranchSummary
	return json.Marshal(struct {
		Alias
		IsBranch bool `json:"isBranch"`
	}{Alias: Alias(b), IsBranch: b.IsBranch()})
}

// RootEntry is one root-level entry of the hierarchy: a true root, or a
// dangling branch promoted by the orphan policy (distinguishable by its
// non-nil parentConversationId).
type RootEntry struct {
	model.Conversation
	HasChildren bool            `json:"hasChildren"`
	Branches    []BranchSummary `json:"branches"`
}

// MarshalJSON adds the derived isBranch field.
func (r RootEntry) MarshalJSON() ([]byte, error) {
	type Alias RootEntry
	return json.Marshal(struct {
		Alias
		IsBranch bool `json:"isBranch"`
	}{Alias: Alias(r), IsBranch: r.IsBranch()})
}

// Summary holds the aggregate counts for the assembled view. Dangling
// branches dropped by the orphan policy are not counted.
type Summary struct {
	Total               int `json:"total"`
	ParentConversations int `json:"parentConversations"`
	BranchConversations int `json:"branchConversations"`
}

// Result is the assembled hierarchy.
type Result struct {
	Data    []RootEntry `json:"data"`
	Summary Summary     `json:"summary"`
}

// Assemble produces the ordered, nested hierarchy from a flat snapshot and
// its graph. Root-level entries (true roots plus any promoted orphans) are
// ordered by updatedAt descending with id ascending breaking ties, and limit
// bounds them; the limit is applied before children lookup so assembly cost
// tracks the visible window. Branches of an included root are never truncated
// and are ordered by branchOrder ascending, then branchCreatedAt ascending,
// then id ascending.
func Assemble(convs []model.Conversation, g *BranchGraph, limit int, includeOrphaned bool) *Result {
	rootLevel := make([]*model.Conversation, 0, len(convs))
	parentCount := 0
	branchCount := 0
	droppedOrphans := 0
	if !includeOrphaned {
		droppedOrphans = len(g.Dangling())
	}
	for i := range convs {
		c := &convs[i]
		if c.ParentConversationID == nil {
			rootLevel = append(rootLevel, c)
			parentCount++
		} else {
			branchCount++
		}
	}
	branchCount -= droppedOrphans
	rootLevel = append(rootLevel, ResolveOrphans(g, includeOrphaned)...)

	sort.Slice(rootLevel, func(i, j int) bool {
		a, b := rootLevel[i], rootLevel[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if limit > 0 && len(rootLevel) > limit {
		rootLevel = rootLevel[:limit]
	}

	entries := make([]RootEntry, 0, len(rootLevel))
	for _, root := range rootLevel {
		children := append([]*model.Conversation(nil), g.Children(root.ID)...)
		sort.Slice(children, func(i, j int) bool {
			a, b := children[i], children[j]
			if a.BranchOrder != b.BranchOrder {
				return a.BranchOrder < b.BranchOrder
			}
			at, bt := branchCreatedAt(a), branchCreatedAt(b)
			if !at.Equal(bt) {
				return at.Before(bt)
			}
			return a.ID.String() < b.ID.String()
		})

		branches := make([]BranchSummary, 0, len(children))
		for _, child := range children {
			branches = append(branches, BranchSummary{
				Conversation: *child,
				HasChildren:  g.HasChildren(child.ID),
			})
		}
		entries = append(entries, RootEntry{
			Conversation: *root,
			HasChildren:  g.HasChildren(root.ID),
			Branches:     branches,
		})
	}

	return &Result{
		Data: entries,
		Summary: Summary{
			Total:               parentCount + branchCount,
			ParentConversations: parentCount,
			BranchConversations: branchCount,
		},
	}
}

// branchCreatedAt treats a missing fork timestamp as the zero time so nil
// values sort first, deterministically.
func branchCreatedAt(c *model.Conversation) time.Time {
	if c.BranchCreatedAt != nil {
		return *c.BranchCreatedAt
	}
	return time.Time{}
}
