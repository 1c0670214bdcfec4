package codes

import "time"

// deadline は期限ヒープの要素。genで発行世代を識別する。
type deadline struct {
	code string
	gen  uint64
	at   time.Time
}

// deadlineHeap は期限の早い順に並ぶ最小ヒープ。container/heapで操作する。
type deadlineHeap []deadline

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].gen < h[j].gen
	}
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(deadline))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
