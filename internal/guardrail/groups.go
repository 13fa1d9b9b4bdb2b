package guardrail

import (
	"sort"
	"strings"
)

// CountGroups counts rows per trimmed value of column idx. Empty values are skipped.
func CountGroups(rows [][]string, idx int) map[string]int {
	out := map[string]int{}
	if idx < 0 {
		return out
	}
	for _, r := range rows {
		if idx >= len(r) {
			continue
		}
		v := strings.TrimSpace(r[idx])
		if v == "" {
			continue
		}
		out[v]++
	}
	return out
}

// FilterGroups splits counts into groups with at least min rows and the rest.
// Both slices are ordered by rows desc, then group name.
func FilterGroups(counts map[string]int, min int) (kept, excluded []GroupCount) {
	kept = []GroupCount{}
	for g, n := range counts {
		if n >= min {
			kept = append(kept, GroupCount{Group: g, Rows: n})
		} else {
			excluded = append(excluded, GroupCount{Group: g, Rows: n})
		}
	}
	sortGroups(kept)
	sortGroups(excluded)
	return kept, excluded
}

func sortGroups(gs []GroupCount) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Rows != gs[j].Rows {
			return gs[i].Rows > gs[j].Rows
		}
		return gs[i].Group < gs[j].Group
	})
}

// TopN returns at most n groups with at least min rows, largest first.
// Renderers of top/bottom lists must go through it so small groups never show.
func TopN(groups []GroupCount, n, min int) []GroupCount {
	out := make([]GroupCount, 0, len(groups))
	for _, g := range groups {
		if g.Rows >= min {
			out = append(out, g)
		}
	}
	sortGroups(out)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// BottomN returns at most n groups with at least min rows, smallest first.
func BottomN(groups []GroupCount, n, min int) []GroupCount {
	out := TopN(groups, -1, min)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
