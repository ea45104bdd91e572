package shazam

import "math"

// slot is one peak position in a frame record. A pruned slot keeps its
// place but is no longer present.
type slot struct {
	Peak
	present bool
}

// mark is the record of one analysed frame.
type mark struct {
	t     int64 // frame stamp, frameIndex/step after the frame was read
	slots []slot
}

// history is the rolling window of frame records still needed for pruning
// (the last pruningDt+1 frames) and for pairing (windowDt frames before).
type history struct {
	marks     []mark
	windowDt  int
	pruningDt int
}

func newHistory(windowDt, pruningDt int) *history {
	return &history{
		marks:     make([]mark, 0, windowDt+pruningDt+1),
		windowDt:  windowDt,
		pruningDt: pruningDt,
	}
}

func (h *history) push(t int64, peaks []Peak) {
	slots := make([]slot, len(peaks))
	for i, p := range peaks {
		slots[i] = slot{Peak: p, present: true}
	}
	h.marks = append(h.marks, mark{t: t, slots: slots})
}

// finalIndex is the index of the frame that just left the pruning window,
// negative while the history is still filling up.
func (h *history) finalIndex() int {
	return len(h.marks) - h.pruningDt - 1
}

// prune drops peaks of the frames still inside the pruning window whose
// magnitude is now below the threshold, after undoing the decay the
// threshold has gone through since that frame. Bin 0 is never pruned.
func (h *history) prune(threshold []float64, decayLog float64) {
	nm := len(h.marks)
	first := h.finalIndex() + 1
	if first < 0 {
		first = 0
	}

	for i := nm - 1; i >= first; i-- {
		slots := h.marks[i].slots
		age := float64(nm - 1 - i)
		for j := range slots {
			s := &slots[j]
			if !s.present || s.Bin == 0 {
				continue
			}
			if math.Log(s.Magnitude) < threshold[s.Bin]+decayLog*age {
				s.present = false
			}
		}
	}
}

// trim discards the records that can no longer take part in a pair with
// the frame at index t0.
func (h *history) trim(t0 int) {
	n := t0 + 1 - h.windowDt
	if n <= 0 {
		return
	}
	copy(h.marks, h.marks[n:])
	for i := len(h.marks) - n; i < len(h.marks); i++ {
		h.marks[i] = mark{}
	}
	h.marks = h.marks[:len(h.marks)-n]
}

func (h *history) size() int {
	return len(h.marks)
}
