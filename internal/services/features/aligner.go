package features

import (
	"fmt"
	"math"
	"sort"
)

// Aligner adapts freshly computed features to the layout a model was trained on.
//
// With saved names the output follows them exactly: missing columns become zero
// and extra columns are dropped. Without names the columns are sorted
// lexicographically, then truncated or padded with "_pad_i" zero columns to
// Width. Non-finite values always become zero.
type Aligner struct {
	Names []string
	Width int
}

// Align returns the aligned rows and the column names they follow.
func (a Aligner) Align(m Matrix) ([][]float64, []string) {
	index := make(map[string]int, len(m.Names))
	for i, n := range m.Names {
		index[n] = i
	}

	var layout []string
	if len(a.Names) > 0 {
		layout = a.Names
	} else {
		layout = append([]string(nil), m.Names...)
		sort.Strings(layout)
		if a.Width > 0 {
			if len(layout) > a.Width {
				layout = layout[:a.Width]
			}
			for i := len(layout); i < a.Width; i++ {
				layout = append(layout, fmt.Sprintf("_pad_%d", i))
			}
		}
	}

	src := make([]int, len(layout))
	for j, name := range layout {
		if i, ok := index[name]; ok {
			src[j] = i
		} else {
			src[j] = -1
		}
	}

	out := make([][]float64, len(m.Rows))
	for r, row := range m.Rows {
		aligned := make([]float64, len(layout))
		for j, i := range src {
			if i < 0 {
				continue
			}
			v := row[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			aligned[j] = v
		}
		out[r] = aligned
	}
	return out, layout
}
