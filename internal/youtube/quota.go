package youtube

import (
	"sort"
	"strings"
)

// facetCosts lists the metadata facets requested on every call, with the
// query cost each adds per id (costs as published Nov 2018).
var facetCosts = map[string]int{
	"contentDetails": 2,
	"id":             0,
	"player":         0,
	"snippet":        2,
	"statistics":     2,
	"status":         2,
	"topicDetails":   2,
}

// DefaultCallBudget caps the total facet cost of a single videos.list
// call. With the full facet set costing 10 per id this works out to
// 50-id batches, which is also the endpoint's own id cap.
const DefaultCallBudget = 500

// facetParts returns the comma-joined part parameter, sorted for stable
// request URLs.
func facetParts() string {
	parts := make([]string, 0, len(facetCosts))
	for facet := range facetCosts {
		parts = append(parts, facet)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// costPerID is the combined cost of the full facet set for one id.
func costPerID() int {
	total := 0
	for _, cost := range facetCosts {
		total += cost
	}
	return total
}

// batchIDs splits ids into batches whose combined facet cost stays under
// budget. A non-positive budget falls back to the default.
func batchIDs(ids []string, budget int) [][]string {
	if budget <= 0 {
		budget = DefaultCallBudget
	}
	size := budget / costPerID()
	if size < 1 {
		size = 1
	}

	var batches [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}
