package orchestrator

import (
	"maps"
	"slices"
)

// passState accumulates the in-memory deltas of one pass. It is only
// touched between batches, never from item goroutines.
type passState struct {
	// cluster maps each assigned item to the cluster the commit records.
	cluster map[string]string
	// own marks items assigned by their own decision.
	own map[string]bool
	// absorbed marks items folded into a new cluster by a neighbour.
	absorbed map[string]bool
	// created marks cluster IDs generated during this pass.
	created map[string]bool
	// missing lists IDs with no stored item.
	missing []string
}

func newPassState() *passState {
	return &passState{
		cluster:  make(map[string]string),
		own:      make(map[string]bool),
		absorbed: make(map[string]bool),
		created:  make(map[string]bool),
	}
}

// pending filters out items already assigned earlier in the pass, such as
// those absorbed by a previous batch.
func (s *passState) pending(batch []string) []string {
	out := make([]string, 0, len(batch))
	for _, id := range batch {
		if _, done := s.cluster[id]; !done {
			out = append(out, id)
		}
	}
	return out
}

// merge folds a batch's outcomes into the state and returns, sorted, the
// items whose vector index cluster may disagree with the recorded one.
//
// An item's own decision beats any absorption of it. When two new clusters
// absorb the same item, the first outcome in batch order keeps it.
func (s *passState) merge(outcomes []outcome) []string {
	for _, oc := range outcomes {
		if a := oc.assignment; a != nil {
			s.cluster[a.ItemID] = a.ClusterID
			s.own[a.ItemID] = true
			if a.IsNewCluster {
				s.created[a.ClusterID] = true
			}
		}
	}

	fix := make(map[string]bool)
	for _, oc := range outcomes {
		a := oc.assignment
		if a == nil {
			continue
		}
		for _, id := range a.GroupedItemIDs {
			if cur, ok := s.cluster[id]; ok {
				if cur != a.ClusterID {
					fix[id] = true
				}
				continue
			}
			s.cluster[id] = a.ClusterID
			s.absorbed[id] = true
		}
	}
	return slices.Sorted(maps.Keys(fix))
}

// drop forgets an item so it stays in the unclustered set.
func (s *passState) drop(id string) {
	delete(s.cluster, id)
	delete(s.own, id)
	delete(s.absorbed, id)
}

func (s *passState) absorbedCount() int { return len(s.absorbed) }

// deltas groups assigned items by cluster, each member list sorted.
func (s *passState) deltas() map[string][]string {
	out := make(map[string][]string)
	for item, cid := range s.cluster {
		out[cid] = append(out[cid], item)
	}
	for _, members := range out {
		slices.Sort(members)
	}
	return out
}

// departures groups, by previous cluster, the items whose committed cluster
// in prior differs from the one this pass assigns. Lists are sorted.
func (s *passState) departures(prior map[string]string) map[string][]string {
	out := make(map[string][]string)
	for item, cid := range s.cluster {
		if old := prior[item]; old != "" && old != cid {
			out[old] = append(out[old], item)
		}
	}
	for _, items := range out {
		slices.Sort(items)
	}
	return out
}
