// Package search implements the flat-search pipeline over a materialized
// candidate set: attribute filters, deterministic ordering, and offset
// windowing. Free-text matching against titles and message content is the
// store's job (it owns the text indexes); everything downstream of that
// predicate runs here so every store backend paginates identically.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
)

// Apply narrows candidates with the date-range, model, and tag filters, in
// that order. Filters must already be normalized. An empty model or tag set
// means no restriction; the tag filter matches conversations carrying at
// least one of the requested tags. The date range is inclusive on both ends
// and compares against updatedAt when sorting by updated, createdAt
// otherwise.
func Apply(candidates []registrystore.ConversationRecord, filters registrystore.SearchFilters) []registrystore.ConversationRecord {
	out := make([]registrystore.ConversationRecord, 0, len(candidates))
	for _, c := range candidates {
		if filters.DateRange != nil {
			ts := dateField(&c, filters.SortBy)
			if ts.Before(filters.DateRange.Start) || ts.After(filters.DateRange.End) {
				continue
			}
		}
		if len(filters.Models) > 0 && !containsFold(filters.Models, c.Model) {
			continue
		}
		if len(filters.Tags) > 0 && !anyTagMatch(filters.Tags, c.Tags) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Sort orders candidates in place by the requested key and direction, with id
// ascending breaking ties so repeated identical calls window the same data
// into the same pages.
func Sort(candidates []registrystore.ConversationRecord, sortBy model.SortBy, order model.SortOrder) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]
		if cmp := compare(a, b, sortBy); cmp != 0 {
			if order == model.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.ID.String() < b.ID.String()
	})
}

// Window slices the sorted candidates to [offset, offset+limit) and computes
// the page metadata. An offset at or past the end yields an empty page with
// the true total.
func Window(candidates []registrystore.ConversationRecord, limit, offset int) *registrystore.SearchPage {
	total := len(candidates)
	page := []registrystore.ConversationRecord{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = candidates[offset:end]
	}
	return &registrystore.SearchPage{
		Conversations: page,
		Total:         total,
		Limit:         limit,
		Offset:        offset,
		HasMore:       offset+len(page) < total,
	}
}

// Run is the full pipeline: filter, sort, window. It never fails; input
// validation happened at Normalize time and the steps are total functions
// over the snapshot.
func Run(candidates []registrystore.ConversationRecord, filters registrystore.SearchFilters) *registrystore.SearchPage {
	matched := Apply(candidates, filters)
	Sort(matched, filters.SortBy, filters.SortOrder)
	return Window(matched, filters.Limit, filters.Offset)
}

// MatchQuery reports whether the free-text query matches the title or any of
// the message contents, case-insensitively. Stores with their own text
// predicate (SQL ILIKE, Mongo regex) should push the match into the query
// instead; this exists for backends that filter in memory.
func MatchQuery(query, title string, contents []string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(title), q) {
		return true
	}
	for _, content := range contents {
		if strings.Contains(strings.ToLower(content), q) {
			return true
		}
	}
	return false
}

func compare(a, b *registrystore.ConversationRecord, sortBy model.SortBy) int {
	switch sortBy {
	case model.SortByDate:
		return compareTime(a.CreatedAt, b.CreatedAt)
	case model.SortByTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case model.SortByMessages:
		switch {
		case a.MessageCount < b.MessageCount:
			return -1
		case a.MessageCount > b.MessageCount:
			return 1
		}
		return 0
	default: // model.SortByUpdated
		return compareTime(a.UpdatedAt, b.UpdatedAt)
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func dateField(c *registrystore.ConversationRecord, sortBy model.SortBy) time.Time {
	if sortBy == model.SortByUpdated {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func anyTagMatch(wanted, have []string) bool {
	for _, w := range wanted {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}
