package search_test

import (
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/search"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func id(n byte) uuid.UUID {
	return uuid.UUID{0x10 + n}
}

func record(n byte, title string) registrystore.ConversationRecord {
	return registrystore.ConversationRecord{
		Conversation: model.Conversation{
			ID:          id(n),
			OwnerUserID: "alice",
			Title:       title,
			CreatedAt:   baseTime.Add(time.Duration(n) * time.Hour),
			UpdatedAt:   baseTime.Add(time.Duration(n) * time.Hour),
		},
	}
}

func titles(page *registrystore.SearchPage) []string {
	out := make([]string, len(page.Conversations))
	for i, c := range page.Conversations {
		out[i] = c.Title
	}
	return out
}

func fiveRecords() []registrystore.ConversationRecord {
	return []registrystore.ConversationRecord{
		record(1, "Alpha"),
		record(2, "Beta"),
		record(3, "Gamma"),
		record(4, "Delta"),
		record(5, "Echo"),
	}
}

func TestRun_TitleSortWithWindow(t *testing.T) {
	page := search.Run(fiveRecords(), registrystore.SearchFilters{
		SortBy:    model.SortByTitle,
		SortOrder: model.SortAsc,
		Limit:     2,
		Offset:    1,
	})

	// Alphabetical order is Alpha, Beta, Delta, Echo, Gamma.
	assert.Equal(t, []string{"Beta", "Delta"}, titles(page))
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	assert.True(t, page.HasMore)
}

func TestRun_PagesConcatenateWithoutGaps(t *testing.T) {
	filters := registrystore.SearchFilters{
		SortBy:    model.SortByTitle,
		SortOrder: model.SortAsc,
		Limit:     2,
	}

	var all []string
	for offset := 0; ; offset += filters.Limit {
		filters.Offset = offset
		page := search.Run(fiveRecords(), filters)
		all = append(all, titles(page)...)
		if !page.HasMore {
			break
		}
	}

	assert.Equal(t, []string{"Alpha", "Beta", "Delta", "Echo", "Gamma"}, all)
}

func TestWindow_OffsetPastEnd(t *testing.T) {
	page := search.Run(fiveRecords(), registrystore.SearchFilters{
		SortBy: model.SortByUpdated,
		Limit:  20,
		Offset: 10,
	})

	assert.Empty(t, page.Conversations)
	assert.Equal(t, 5, page.Total)
	assert.False(t, page.HasMore)
}

func TestWindow_LastPageExactFit(t *testing.T) {
	page := search.Run(fiveRecords(), registrystore.SearchFilters{
		SortBy: model.SortByUpdated,
		Limit:  5,
		Offset: 0,
	})

	assert.Len(t, page.Conversations, 5)
	assert.False(t, page.HasMore)
}

func TestSort_DefaultUpdatedDescending(t *testing.T) {
	page := search.Run(fiveRecords(), registrystore.SearchFilters{
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortDesc,
		Limit:     20,
	})

	assert.Equal(t, []string{"Echo", "Delta", "Gamma", "Beta", "Alpha"}, titles(page))
}

func TestSort_TieBreakByIDAscending(t *testing.T) {
	a := record(2, "same")
	b := record(1, "same")
	a.UpdatedAt = baseTime
	b.UpdatedAt = baseTime

	page := search.Run([]registrystore.ConversationRecord{a, b}, registrystore.SearchFilters{
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortDesc,
		Limit:     20,
	})

	require.Len(t, page.Conversations, 2)
	// id ascending breaks the tie in both sort directions.
	assert.Equal(t, id(1), page.Conversations[0].ID)
	assert.Equal(t, id(2), page.Conversations[1].ID)
}

func TestSort_ByMessageCount(t *testing.T) {
	a := record(1, "few")
	a.MessageCount = 2
	b := record(2, "many")
	b.MessageCount = 9

	page := search.Run([]registrystore.ConversationRecord{a, b}, registrystore.SearchFilters{
		SortBy:    model.SortByMessages,
		SortOrder: model.SortDesc,
		Limit:     20,
	})

	assert.Equal(t, []string{"many", "few"}, titles(page))
}

func TestApply_DateRangeInclusive(t *testing.T) {
	recs := fiveRecords()
	start := recs[1].UpdatedAt // Beta
	end := recs[3].UpdatedAt   // Delta

	page := search.Run(recs, registrystore.SearchFilters{
		DateRange: &registrystore.DateRange{Start: start, End: end},
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortAsc,
		Limit:     20,
	})

	// Records exactly on either boundary are included.
	assert.Equal(t, []string{"Beta", "Gamma", "Delta"}, titles(page))
}

func TestApply_DateRangeUsesCreatedAtForNonUpdatedSorts(t *testing.T) {
	rec := record(1, "drifted")
	rec.CreatedAt = baseTime
	rec.UpdatedAt = baseTime.Add(48 * time.Hour)
	window := &registrystore.DateRange{Start: baseTime.Add(-time.Hour), End: baseTime.Add(time.Hour)}

	byDate := search.Run([]registrystore.ConversationRecord{rec}, registrystore.SearchFilters{
		DateRange: window,
		SortBy:    model.SortByDate,
		SortOrder: model.SortAsc,
		Limit:     20,
	})
	assert.Equal(t, 1, byDate.Total)

	byUpdated := search.Run([]registrystore.ConversationRecord{rec}, registrystore.SearchFilters{
		DateRange: window,
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortAsc,
		Limit:     20,
	})
	assert.Equal(t, 0, byUpdated.Total)
}

func TestApply_ModelAndTagFilters(t *testing.T) {
	a := record(1, "claude-chat")
	a.Model = "claude-3"
	a.Tags = []string{"work", "draft"}
	b := record(2, "gpt-chat")
	b.Model = "gpt-4"
	b.Tags = []string{"personal"}

	byModel := search.Run([]registrystore.ConversationRecord{a, b}, registrystore.SearchFilters{
		Models:    []string{"CLAUDE-3"},
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortDesc,
		Limit:     20,
	})
	assert.Equal(t, []string{"claude-chat"}, titles(byModel))

	// Tag filter matches any overlap, case-insensitively.
	byTag := search.Run([]registrystore.ConversationRecord{a, b}, registrystore.SearchFilters{
		Tags:      []string{"Draft", "missing"},
		SortBy:    model.SortByUpdated,
		SortOrder: model.SortDesc,
		Limit:     20,
	})
	assert.Equal(t, []string{"claude-chat"}, titles(byTag))
}

func TestMatchQuery(t *testing.T) {
	assert.True(t, search.MatchQuery("", "anything", nil))
	assert.True(t, search.MatchQuery("hello", "Say HELLO world", nil))
	assert.True(t, search.MatchQuery("needle", "title", []string{"no", "a NEEDLE here"}))
	assert.False(t, search.MatchQuery("needle", "title", []string{"nothing"}))
}
