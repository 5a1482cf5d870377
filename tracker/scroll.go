package tracker

// ScrollPosition is a sample of the page's scroll geometry.
type ScrollPosition struct {
	ScrollTop      float64
	ScrollHeight   float64
	ViewportHeight float64
}

// Depth is scrollTop / (scrollHeight - viewportHeight) * 100, clamped to
// [0, 100]. A page that cannot scroll is fully seen.
func (p ScrollPosition) Depth() float64 {
	scrollable := p.ScrollHeight - p.ViewportHeight
	if scrollable <= 0 {
		return 100
	}
	depth := p.ScrollTop / scrollable * 100
	switch {
	case depth < 0:
		return 0
	case depth > 100:
		return 100
	}
	return depth
}

// scrollState remembers which thresholds were reported for the current page.
type scrollState struct {
	thresholds []int // ascending
	sent       map[int]bool
	maxDepth   float64
}

func newScrollState(thresholds []int) scrollState {
	return scrollState{thresholds: thresholds, sent: make(map[int]bool)}
}

// record notes a depth sample and returns the thresholds crossed for the
// first time, in ascending order.
func (s *scrollState) record(depth float64) []int {
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
	var crossed []int
	for _, th := range s.thresholds {
		if depth >= float64(th) && !s.sent[th] {
			s.sent[th] = true
			crossed = append(crossed, th)
		}
	}
	return crossed
}

func (s *scrollState) reset() {
	s.sent = make(map[int]bool)
	s.maxDepth = 0
}
