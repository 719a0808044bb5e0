package hierarchy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/hierarchy"
	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// id returns a fixed uuid whose string ordering follows n, so tests can
// control id-based tie-breaking.
func id(n byte) uuid.UUID {
	return uuid.UUID{0x10 + n}
}

func root(n byte, title string, updatedAt time.Time) model.Conversation {
	return model.Conversation{
		ID:          id(n),
		OwnerUserID: "alice",
		Title:       title,
		CreatedAt:   baseTime,
		UpdatedAt:   updatedAt,
	}
}

func branch(n byte, parent uuid.UUID, order int, forkedAt time.Time) model.Conversation {
	return model.Conversation{
		ID:                   id(n),
		OwnerUserID:          "alice",
		Title:                "branch",
		ParentConversationID: &parent,
		BranchOrder:          order,
		BranchCreatedAt:      &forkedAt,
		CreatedAt:            baseTime,
		UpdatedAt:            baseTime,
	}
}

func assemble(t *testing.T, convs []model.Conversation, limit int, includeOrphaned bool) *hierarchy.Result {
	t.Helper()
	g, err := hierarchy.BuildBranchGraph(convs)
	require.NoError(t, err)
	return hierarchy.Assemble(convs, g, limit, includeOrphaned)
}

func TestAssemble_RootAndBranchOrdering(t *testing.T) {
	convs := []model.Conversation{
		root(1, "A", baseTime.Add(3*time.Hour)),
		branch(2, id(1), 2, baseTime.Add(time.Hour)),
		branch(3, id(1), 1, baseTime.Add(2*time.Hour)),
		root(4, "D", baseTime.Add(time.Hour)),
	}

	result := assemble(t, convs, 50, false)

	// Roots by updatedAt descending.
	require.Len(t, result.Data, 2)
	assert.Equal(t, "A", result.Data[0].Title)
	assert.Equal(t, "D", result.Data[1].Title)

	// Branches by branchOrder ascending, regardless of fork time.
	require.Len(t, result.Data[0].Branches, 2)
	assert.Equal(t, id(3), result.Data[0].Branches[0].ID)
	assert.Equal(t, id(2), result.Data[0].Branches[1].ID)

	assert.True(t, result.Data[0].HasChildren)
	assert.False(t, result.Data[1].HasChildren)
	assert.Empty(t, result.Data[1].Branches)

	assert.Equal(t, 4, result.Summary.Total)
	assert.Equal(t, 2, result.Summary.ParentConversations)
	assert.Equal(t, 2, result.Summary.BranchConversations)
}

func TestAssemble_BranchTieBreaks(t *testing.T) {
	forkEarly := baseTime.Add(time.Minute)
	forkLate := baseTime.Add(2 * time.Minute)
	convs := []model.Conversation{
		root(1, "A", baseTime),
		// Same branchOrder: earlier fork wins.
		branch(5, id(1), 1, forkLate),
		branch(4, id(1), 1, forkEarly),
		// Same branchOrder and fork time: lower id wins.
		branch(3, id(1), 0, forkEarly),
		branch(2, id(1), 0, forkEarly),
	}

	result := assemble(t, convs, 50, false)

	require.Len(t, result.Data, 1)
	branches := result.Data[0].Branches
	require.Len(t, branches, 4)
	assert.Equal(t, id(2), branches[0].ID)
	assert.Equal(t, id(3), branches[1].ID)
	assert.Equal(t, id(4), branches[2].ID)
	assert.Equal(t, id(5), branches[3].ID)
}

func TestAssemble_RootTieBreakByID(t *testing.T) {
	convs := []model.Conversation{
		root(2, "second", baseTime),
		root(1, "first", baseTime),
	}

	result := assemble(t, convs, 50, false)

	require.Len(t, result.Data, 2)
	assert.Equal(t, id(1), result.Data[0].ID)
	assert.Equal(t, id(2), result.Data[1].ID)
}

func TestAssemble_OrphanExcludedByDefault(t *testing.T) {
	missing := uuid.UUID{0xee}
	convs := []model.Conversation{
		root(1, "A", baseTime),
		branch(2, missing, 0, baseTime),
	}

	result := assemble(t, convs, 50, false)

	require.Len(t, result.Data, 1)
	assert.Equal(t, id(1), result.Data[0].ID)

	// The dropped orphan is invisible to the summary too.
	assert.Equal(t, 1, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.ParentConversations)
	assert.Equal(t, 0, result.Summary.BranchConversations)
}

func TestAssemble_OrphanPromotedWhenIncluded(t *testing.T) {
	missing := uuid.UUID{0xee}
	convs := []model.Conversation{
		root(1, "A", baseTime.Add(time.Hour)),
		branch(2, missing, 0, baseTime),
	}

	result := assemble(t, convs, 50, true)

	require.Len(t, result.Data, 2)
	promoted := result.Data[1]
	assert.Equal(t, id(2), promoted.ID)
	// A promoted orphan keeps its branch fields so callers can still tell it
	// apart from a true root.
	require.NotNil(t, promoted.ParentConversationID)
	assert.Equal(t, missing, *promoted.ParentConversationID)
	assert.Empty(t, promoted.Branches)

	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.ParentConversations)
	assert.Equal(t, 1, result.Summary.BranchConversations)
}

func TestAssemble_CrossOwnerParentIsDangling(t *testing.T) {
	parent := root(1, "bobs", baseTime)
	parent.OwnerUserID = "bob"
	child := branch(2, parent.ID, 0, baseTime)

	g, err := hierarchy.BuildBranchGraph([]model.Conversation{parent, child})
	require.NoError(t, err)

	assert.False(t, g.HasChildren(parent.ID))
	require.Len(t, g.Dangling(), 1)
	assert.Equal(t, child.ID, g.Dangling()[0].ID)
}

func TestAssemble_LimitBoundsRootsNotBranches(t *testing.T) {
	convs := []model.Conversation{
		root(1, "newest", baseTime.Add(3*time.Hour)),
		root(2, "middle", baseTime.Add(2*time.Hour)),
		root(3, "oldest", baseTime.Add(time.Hour)),
		branch(4, id(1), 0, baseTime),
		branch(5, id(1), 1, baseTime),
	}

	result := assemble(t, convs, 2, false)

	require.Len(t, result.Data, 2)
	assert.Equal(t, id(1), result.Data[0].ID)
	assert.Equal(t, id(2), result.Data[1].ID)
	// Branches of an included root are never truncated.
	assert.Len(t, result.Data[0].Branches, 2)
	// Summary counts the whole snapshot, not the window.
	assert.Equal(t, 5, result.Summary.Total)
	assert.Equal(t, 3, result.Summary.ParentConversations)
	assert.Equal(t, 2, result.Summary.BranchConversations)
}

func TestAssemble_NestedBranchMarksHasChildren(t *testing.T) {
	convs := []model.Conversation{
		root(1, "A", baseTime),
		branch(2, id(1), 0, baseTime),
		branch(3, id(2), 0, baseTime), // grandchild, not rendered
	}

	result := assemble(t, convs, 50, false)

	require.Len(t, result.Data, 1)
	require.Len(t, result.Data[0].Branches, 1)
	// One level of nesting only: the grandchild shows up as hasChildren on
	// its parent branch, not as a rendered entry.
	assert.True(t, result.Data[0].Branches[0].HasChildren)
}

func TestBuildBranchGraph_CycleFails(t *testing.T) {
	a := root(1, "A", baseTime)
	b := branch(2, a.ID, 0, baseTime)
	bID := b.ID
	a.ParentConversationID = &bID

	g, err := hierarchy.BuildBranchGraph([]model.Conversation{a, b})

	require.Error(t, err)
	var integrity *registrystore.StructuralIntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Nil(t, g)
}

func TestBuildBranchGraph_SelfReferenceFails(t *testing.T) {
	a := root(1, "A", baseTime)
	self := a.ID
	a.ParentConversationID = &self

	_, err := hierarchy.BuildBranchGraph([]model.Conversation{a})

	var integrity *registrystore.StructuralIntegrityError
	require.True(t, errors.As(err, &integrity))
}

func TestAssemble_EmptySnapshot(t *testing.T) {
	result := assemble(t, nil, 50, false)

	assert.Empty(t, result.Data)
	assert.Equal(t, 0, result.Summary.Total)
}

func TestAssemble_Deterministic(t *testing.T) {
	convs := []model.Conversation{
		root(1, "A", baseTime.Add(time.Hour)),
		branch(2, id(1), 1, baseTime),
		branch(3, id(1), 0, baseTime),
		root(4, "D", baseTime),
	}

	first := assemble(t, convs, 50, false)
	second := assemble(t, convs, 50, false)

	assert.Equal(t, first, second)
}
