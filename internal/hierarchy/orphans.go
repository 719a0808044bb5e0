package hierarchy

import "github.com/chirino/conversation-service/internal/model"

// ResolveOrphans applies the orphan policy to the graph's dangling branches.
// With includeOrphaned false the result is empty and the dangling branches
// are excluded from assembly entirely. With includeOrphaned true each
// dangling branch is returned for promotion to a pseudo-root: it is rendered
// without a parent but keeps its branch fields as-is, so consumers can still
// tell a promoted orphan from a true root by its non-nil
// parentConversationId.
func ResolveOrphans(g *BranchGraph, includeOrphaned bool) []*model.Conversation {
	if !includeOrphaned {
		return nil
	}
	return g.Dangling()
}
