package pipeline

import (
	"sort"

	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

type candidate struct {
	sponsor *model.Sponsor
	tags    []taxonomy.Tag
}

// sponsorIndex selects the sponsors a subject is scored against: those
// sharing at least one canonical tag, plus generic sponsors without any
// resolvable tag. A subject without tags is scored against every sponsor.
// Below the threshold the selection is a linear scan; above it a tag index
// is used. Both give the same candidates.
type sponsorIndex struct {
	all     []candidate
	byTag   map[taxonomy.Tag][]int
	generic []int
	indexed bool
}

func newSponsorIndex(table *taxonomy.Table, sponsors []model.Sponsor, threshold int) *sponsorIndex {
	x := &sponsorIndex{
		all:     make([]candidate, len(sponsors)),
		indexed: len(sponsors) >= threshold,
	}
	for i := range sponsors {
		x.all[i] = candidate{sponsor: &sponsors[i], tags: table.Resolve(sponsors[i].Categories)}
	}
	sort.Slice(x.all, func(i, j int) bool { return x.all[i].sponsor.ID < x.all[j].sponsor.ID })

	if !x.indexed {
		return x
	}
	x.byTag = make(map[taxonomy.Tag][]int)
	for i, c := range x.all {
		if len(c.tags) == 0 {
			x.generic = append(x.generic, i)
			continue
		}
		for _, t := range c.tags {
			x.byTag[t] = append(x.byTag[t], i)
		}
	}
	return x
}

func (x *sponsorIndex) len() int { return len(x.all) }

// candidates returns the sponsors for a subject with the given resolved
// tags, in sponsor id order.
func (x *sponsorIndex) candidates(tags []taxonomy.Tag) []candidate {
	if len(tags) == 0 {
		return x.all
	}
	if !x.indexed {
		var out []candidate
		for _, c := range x.all {
			if len(c.tags) == 0 || len(taxonomy.Intersect(tags, c.tags)) > 0 {
				out = append(out, c)
			}
		}
		return out
	}

	picked := make(map[int]struct{})
	for _, i := range x.generic {
		picked[i] = struct{}{}
	}
	for _, t := range tags {
		for _, i := range x.byTag[t] {
			picked[i] = struct{}{}
		}
	}
	ids := make([]int, 0, len(picked))
	for i := range picked {
		ids = append(ids, i)
	}
	sort.Ints(ids)

	out := make([]candidate, len(ids))
	for k, i := range ids {
		out[k] = x.all[i]
	}
	return out
}
