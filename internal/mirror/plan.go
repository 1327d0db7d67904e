package mirror

import "sort"

// UngroupedGroupTitle names the synthetic trailing group that collects
// root collections not referenced by any remote group.
const UngroupedGroupTitle = "Ungrouped"

// Plan is the declarative folder layout derived from a remote snapshot.
// It is produced without touching the local tree.
type Plan struct {
	Groups []PlanGroup
}

// PlanGroup is one top-level folder to ensure under the mirror root,
// with its collection trees in display order.
type PlanGroup struct {
	Title       string
	Collections []*RemoteCollection
}

// BuildPlan assembles the collection forest from the root and child
// collection lists, sorts every node's children by the remote display
// comparator, and orders root collections by their group membership.
// Collections referenced by no group land in a trailing "Ungrouped"
// group sorted by the same comparator. Child collections whose declared
// parent is unknown are dropped.
func BuildPlan(groups []RemoteGroup, roots, children []RemoteCollection) *Plan {
	nodes := make(map[int64]*RemoteCollection, len(roots)+len(children))

	for i := range roots {
		c := roots[i]
		c.Children = nil
		nodes[c.ID] = &c
	}

	for i := range children {
		c := children[i]
		c.Children = nil
		nodes[c.ID] = &c
	}

	for _, c := range nodes {
		if c.ParentID == 0 {
			continue
		}

		if parent, ok := nodes[c.ParentID]; ok && parent != c {
			parent.Children = append(parent.Children, c)
		}
	}

	for _, c := range nodes {
		sortCollections(c.Children)
	}

	plan := &Plan{}
	grouped := make(map[int64]bool)

	for _, g := range groups {
		pg := PlanGroup{Title: g.Title}

		for _, id := range g.CollectionIDs {
			c, ok := nodes[id]
			if !ok || c.ParentID != 0 || grouped[id] {
				continue
			}

			grouped[id] = true
			pg.Collections = append(pg.Collections, c)
		}

		plan.Groups = append(plan.Groups, pg)
	}

	var ungrouped []*RemoteCollection

	for i := range roots {
		if c := nodes[roots[i].ID]; !grouped[c.ID] && c.ParentID == 0 {
			ungrouped = append(ungrouped, c)
		}
	}

	if len(ungrouped) > 0 {
		sortCollections(ungrouped)
		plan.Groups = append(plan.Groups, PlanGroup{
			Title:       UngroupedGroupTitle,
			Collections: ungrouped,
		})
	}

	return plan
}

// sortCollections orders siblings the way the remote displays them:
// descending sort key, ties broken by ascending title (case-sensitive).
func sortCollections(cols []*RemoteCollection) {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].SortKey != cols[j].SortKey {
			return cols[i].SortKey > cols[j].SortKey
		}

		return cols[i].Title < cols[j].Title
	})
}
