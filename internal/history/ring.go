package history

import "github.com/hamed0406/sitewatch/internal/domain"

// ring is a fixed-capacity FIFO; pushing into a full ring evicts the oldest.
type ring struct {
	buf   []domain.HistoryEntry
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.HistoryEntry, capacity)}
}

func (r *ring) push(e domain.HistoryEntry) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
