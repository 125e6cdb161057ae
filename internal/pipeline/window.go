package pipeline

import (
	"fmt"
)

// DefaultYearWindow is the width of one window in years.
const DefaultYearWindow = 2

// Window is an inclusive year range fetched and persisted as one unit.
type Window struct {
	Start int
	End   int
}

func (w Window) String() string {
	return fmt.Sprintf("%d-%d", w.Start, w.End)
}

// Windows splits [start, end] into consecutive windows of width years,
// the last one clipped to end.
func Windows(start, end, width int) []Window {
	if width < 1 {
		width = DefaultYearWindow
	}
	var out []Window
	for s := start; s <= end; s += width {
		e := s + width - 1
		if e > end {
			e = end
		}
		out = append(out, Window{Start: s, End: e})
	}
	return out
}
