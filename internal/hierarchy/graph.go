package hierarchy

import (
	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/google/uuid"
)

// BranchGraph is the parent/children index over one owner's conversations.
// It is built from a flat snapshot in two passes (id→record, then
// parent-id→children) so orphan and cycle detection are bounded walks over
// the index rather than pointer chasing.
type BranchGraph struct {
	byID     map[uuid.UUID]*model.Conversation
	children map[uuid.UUID][]*model.Conversation
	dangling []*model.Conversation
}

// BuildBranchGraph indexes the given conversations and validates the parent
// link structure. All records must belong to one owner; a parent reference to
// a missing record, or to a record with a different owner, marks the child as
// dangling (cross-user parent references are never honored). A cycle in the
// parent chain fails with a StructuralIntegrityError: the walk must never
// silently loop.
func BuildBranchGraph(convs []model.Conversation) (*BranchGraph, error) {
	g := &BranchGraph{
		byID:     make(map[uuid.UUID]*model.Conversation, len(convs)),
		children: make(map[uuid.UUID][]*model.Conversation),
	}
	for i := range convs {
		g.byID[convs[i].ID] = &convs[i]
	}
	for i := range convs {
		c := &convs[i]
		if c.ParentConversationID == nil {
			continue
		}
		parent, ok := g.byID[*c.ParentConversationID]
		if !ok || parent.OwnerUserID != c.OwnerUserID {
			g.dangling = append(g.dangling, c)
			continue
		}
		g.children[parent.ID] = append(g.children[parent.ID], c)
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles walks parent links from every node. Each walk keeps its own
// visited set and short-circuits on the first revisit; nodes proven to reach
// a root (or a dangling edge) are memoized so the overall cost stays linear.
func (g *BranchGraph) checkCycles() error {
	safe := make(map[uuid.UUID]bool, len(g.byID))
	for id := range g.byID {
		if safe[id] {
			continue
		}
		visited := map[uuid.UUID]bool{}
		walk := []uuid.UUID{}
		current := g.byID[id]
		for current != nil {
			if safe[current.ID] {
				break
			}
			if visited[current.ID] {
				return &registrystore.StructuralIntegrityError{ConversationID: current.ID.String()}
			}
			visited[current.ID] = true
			walk = append(walk, current.ID)
			if current.ParentConversationID == nil {
				break
			}
			next, ok := g.byID[*current.ParentConversationID]
			if !ok {
				break // dangling edge terminates the chain
			}
			current = next
		}
		for _, visitedID := range walk {
			safe[visitedID] = true
		}
	}
	return nil
}

// Children returns the direct children of the given conversation, unsorted.
func (g *BranchGraph) Children(id uuid.UUID) []*model.Conversation {
	return g.children[id]
}

// HasChildren reports whether at least one conversation references the given
// id as its parent.
func (g *BranchGraph) HasChildren(id uuid.UUID) bool {
	return len(g.children[id]) > 0
}

// Dangling returns the branches whose declared parent is missing from the
// snapshot or not visible to the owner.
func (g *BranchGraph) Dangling() []*model.Conversation {
	return g.dangling
}
