package thread

import (
	"sort"

	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/section"
)

// slot is one row of a captured layout.
type slot struct {
	token   string
	version uint64
	day     section.DayKey
	path    section.Path
}

// layout is the row order of the index at one point in time.
type layout struct {
	slots []slot
	days  []section.DayKey
}

func capture(ix *section.Index) layout {
	var l layout
	for _, s := range ix.Sections() {
		l.days = append(l.days, s.Day)
	}
	ix.Walk(func(p section.Path, m *entity.Message) bool {
		l.slots = append(l.slots, slot{token: m.UniqueToken, version: m.Version, day: section.DayOf(m.Time), path: p})
		return true
	})
	return l
}

// change is the row-level difference between two layouts.
type change struct {
	insertedSections []int
	removedSections  []int
	inserted         []section.Path
	removed          []section.Path
	updated          []section.Path

	// touched lists tokens whose row or neighborhood changed, in the new layout.
	touched []string
	gone    []string
}

func (c change) empty() bool {
	return len(c.insertedSections) == 0 && len(c.removedSections) == 0 &&
		len(c.inserted) == 0 && len(c.removed) == 0 && len(c.updated) == 0
}

// diff computes what turns before into after. Rows whose relative order
// changed, or whose day changed, are reported as removed and inserted.
// Rows inside inserted or removed sections are covered by the section
// change and not listed individually. Removed paths use the old layout;
// inserted and updated paths use the new one.
func diff(before, after layout) change {
	var c change

	oldDays := make(map[section.DayKey]bool, len(before.days))
	for _, d := range before.days {
		oldDays[d] = true
	}
	newDays := make(map[section.DayKey]bool, len(after.days))
	for i, d := range after.days {
		newDays[d] = true
		if !oldDays[d] {
			c.insertedSections = append(c.insertedSections, i)
		}
	}
	for i, d := range before.days {
		if !newDays[d] {
			c.removedSections = append(c.removedSections, i)
		}
	}

	oldPos := make(map[string]int, len(before.slots))
	for i, s := range before.slots {
		oldPos[s.token] = i
	}
	newPos := make(map[string]int, len(after.slots))
	for i, s := range after.slots {
		newPos[s.token] = i
	}

	// Common rows in old order, mapped to their new positions.
	var common []int
	var commonTokens []string
	for _, s := range before.slots {
		if j, ok := newPos[s.token]; ok && after.slots[j].day == s.day {
			common = append(common, j)
			commonTokens = append(commonTokens, s.token)
		}
	}
	stable := make(map[string]bool, len(common))
	for _, i := range longestIncreasing(common) {
		stable[commonTokens[i]] = true
	}

	changed := map[int]bool{}
	for i, s := range before.slots {
		if stable[s.token] {
			continue
		}
		if _, still := newPos[s.token]; !still {
			c.gone = append(c.gone, s.token)
		}
		if newDays[s.day] && oldDays[s.day] {
			c.removed = append(c.removed, s.path)
		}
		// The rows around a vanished row get new neighbors.
		for _, j := range neighborsInNew(before, after, i, newPos) {
			changed[j] = true
		}
	}
	for j, s := range after.slots {
		if !stable[s.token] {
			changed[j] = true
			if oldDays[s.day] {
				c.inserted = append(c.inserted, s.path)
			}
			continue
		}
		if before.slots[oldPos[s.token]].version != s.version {
			changed[j] = true
			c.updated = append(c.updated, s.path)
		}
	}

	// A changed row changes its neighbors' grouping as well.
	touched := map[int]bool{}
	for j := range changed {
		touched[j] = true
		if j > 0 && after.slots[j-1].day == after.slots[j].day {
			touched[j-1] = true
		}
		if j+1 < len(after.slots) && after.slots[j+1].day == after.slots[j].day {
			touched[j+1] = true
		}
	}
	idx := make([]int, 0, len(touched))
	for j := range touched {
		idx = append(idx, j)
	}
	sort.Ints(idx)
	for _, j := range idx {
		c.touched = append(c.touched, after.slots[j].token)
	}
	sortPaths(c.removed)
	sortPaths(c.inserted)
	sortPaths(c.updated)
	return c
}

// neighborsInNew returns the new positions of the surviving rows next to
// old row i.
func neighborsInNew(before, after layout, i int, newPos map[string]int) []int {
	var out []int
	for _, k := range []int{i - 1, i + 1} {
		if k < 0 || k >= len(before.slots) {
			continue
		}
		if j, ok := newPos[before.slots[k].token]; ok {
			out = append(out, j)
		}
	}
	return out
}

func sortPaths(ps []section.Path) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Section != ps[j].Section {
			return ps[i].Section < ps[j].Section
		}
		return ps[i].Row < ps[j].Row
	})
}

// longestIncreasing returns the indices of one longest strictly increasing
// subsequence of xs.
func longestIncreasing(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	tails := []int{}
	prev := make([]int, len(xs))
	for i, x := range xs {
		k := sort.Search(len(tails), func(k int) bool { return xs[tails[k]] >= x })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}
	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		out[i] = k
	}
	return out
}
