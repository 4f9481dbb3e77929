package shopping

import (
	"sort"
	"time"
)

// SingletonID is the id of the household's one live shopping list.
const SingletonID = "singleton"

// Item is one entry on the shopping list.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Checked   bool      `json:"checked"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
}

// List is the live shopping list. CreatedAt is the list's epoch and restarts on every archive.
type List struct {
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArchivedList is a snapshot of a list taken when it was archived.
type ArchivedList struct {
	ID        string    `json:"id"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config holds the user's shopping-list preferences. A nil SortingPrompt means the localized
// default is used.
type Config struct {
	SortingPrompt *string `json:"sortingPrompt"`
}

// sortItems orders items by SortOrder, breaking ties by CreatedAt and then ID.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (l *List) indexOf(id string) int {
	for i := range l.Items {
		if l.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *List) nextSortOrder() int {
	next := 0
	for _, it := range l.Items {
		if it.SortOrder >= next {
			next = it.SortOrder + 1
		}
	}
	return next
}

// applyOrder gives the items named in ids the ranks 0..len(ids)-1 and places every other item
// after them, keeping their relative order. Unknown ids are ignored.
func (l *List) applyOrder(ids []string) {
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := rank[id]; !dup {
			rank[id] = i
		}
	}

	sortItems(l.Items)
	listed := make([]Item, len(ids))
	found := make([]bool, len(ids))
	var rest []Item
	for _, it := range l.Items {
		if r, ok := rank[it.ID]; ok {
			listed[r] = it
			found[r] = true
			continue
		}
		rest = append(rest, it)
	}

	ordered := make([]Item, 0, len(l.Items))
	for i, it := range listed {
		if found[i] {
			ordered = append(ordered, it)
		}
	}
	ordered = append(ordered, rest...)
	for i := range ordered {
		ordered[i].SortOrder = i
	}
	l.Items = ordered
}
