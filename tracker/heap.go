package tracker

// candidate is a scored (track, detection) pairing.
type candidate struct {
	score float64
	track int
	det   int
}

// candidateHeap is a max-heap by score.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		// Older tracks win ties.
		if h[i].track == h[j].track {
			return h[i].det < h[j].det
		}
		return h[i].track < h[j].track
	}
	return h[i].score > h[j].score
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
