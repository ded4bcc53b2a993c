// Package dedup groups items whose text is identical after normalization
// (exact) or whose TF-IDF cosine similarity clears a threshold (near).
package dedup

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vet-analytics/internal/fingerprint"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

// Grouping methods.
const (
	MethodExact = "exact"
	nearPrefix  = "near_tfidf_"
)

// MaxMembers caps persisted member lists.
const MaxMembers = 100

// Item is one thing to group.
type Item struct {
	ID   string
	Text string
}

// Group is a set of items considered duplicates of one another. Members
// holds every member id in grouping order, the representative first.
type Group struct {
	ID             string
	Type           string
	Method         string
	Hash           string
	Representative string
	Members        []string
}

// Count is the number of members.
func (g Group) Count() int { return len(g.Members) }

// Similarity scores a batch of texts pairwise.
type Similarity interface {
	Pairwise(ctx context.Context, texts []string) ([][]float64, error)
}

// NormHash is the exact-match key of a text.
func NormHash(text string) string {
	return fingerprint.Text(textnorm.Normalize(text))
}

// ExactGrouper accumulates exact groups incrementally, so streamed documents
// never need to be held in memory at once.
type ExactGrouper struct {
	itemType string
	order    []string
	groups   map[string]*Group
}

// NewExactGrouper starts an empty grouping for items of itemType.
func NewExactGrouper(itemType string) *ExactGrouper {
	return &ExactGrouper{itemType: itemType, groups: map[string]*Group{}}
}

// Add places an item and returns its group's hash and whether the group is
// new.
func (e *ExactGrouper) Add(it Item) (string, bool) {
	h := NormHash(it.Text)
	return h, e.AddHash(it.ID, h)
}

// AddHash places an item whose normalized hash is already known and reports
// whether its group is new.
func (e *ExactGrouper) AddHash(id, h string) bool {
	g, ok := e.groups[h]
	if !ok {
		g = &Group{
			ID:             ExactID(e.itemType, h),
			Type:           e.itemType,
			Method:         MethodExact,
			Hash:           h,
			Representative: id,
		}
		e.groups[h] = g
		e.order = append(e.order, h)
	}
	g.Members = append(g.Members, id)
	return !ok
}

// Groups returns the groups in first-seen order.
func (e *ExactGrouper) Groups() []Group {
	out := make([]Group, len(e.order))
	for i, h := range e.order {
		out[i] = *e.groups[h]
	}
	return out
}

// Exact partitions items by normalized-text hash. Every item lands in
// exactly one group; group sizes sum to len(items).
func Exact(itemType string, items []Item) []Group {
	g := NewExactGrouper(itemType)
	for _, it := range items {
		g.Add(it)
	}
	return g.Groups()
}

// Near groups items whose pairwise similarity is at least threshold. It is a
// greedy single pass in input order: an unconsumed item claims every other
// unconsumed item at or above the threshold. Groups are disjoint and items
// with no close neighbour appear in none. Fewer than two items yield nil.
func Near(ctx context.Context, sim Similarity, itemType string, items []Item, threshold float64) ([]Group, error) {
	if len(items) < 2 {
		return nil, nil
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	matrix, err := sim.Pairwise(ctx, texts)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: near %s", itemType)
	}

	method := NearMethod(threshold)
	consumed := make([]bool, len(items))
	var out []Group
	for i := range items {
		if consumed[i] {
			continue
		}
		members := []string{items[i].ID}
		var claimed []int
		for j := range items {
			if j == i || consumed[j] {
				continue
			}
			if matrix[i][j] >= threshold {
				claimed = append(claimed, j)
				members = append(members, items[j].ID)
			}
		}
		if len(claimed) == 0 {
			continue
		}
		consumed[i] = true
		for _, j := range claimed {
			consumed[j] = true
		}
		out = append(out, Group{
			ID:             NearID(itemType, members),
			Type:           itemType,
			Method:         method,
			Representative: items[i].ID,
			Members:        members,
		})
	}
	return out, nil
}

// ExactID is the stable id of an exact group.
func ExactID(itemType, hash string) string {
	return fingerprint.Text("exact|" + itemType + "|" + hash)
}

// NearID is the stable id of a near group; member order does not matter.
func NearID(itemType string, members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return fingerprint.Text("near|" + itemType + "|" + strings.Join(sorted, "|"))
}

// NearMethod labels a near grouping by its threshold, e.g. near_tfidf_0.9.
func NearMethod(threshold float64) string {
	return nearPrefix + strconv.FormatFloat(threshold, 'f', -1, 64)
}

// Cap truncates ids to at most n entries.
func Cap(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	return ids[:n]
}
