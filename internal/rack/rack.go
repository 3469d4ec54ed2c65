// Package rack implements the Rack of spec §4.5: an ordered
// container of reels keyed by each reel's head rtp_ts, single-writer
// (Spooler) / single-reader (Render loop). The ordering container is
// grounded on the teacher's container/heap-based priority queue
// (pkg/nest/queue.go's ticketHeap), adapted to order by rtp_ts instead
// of ticket priority.
package rack

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/reel"
)

// ErrCollision is returned by Insert when a reel with the same head
// rtp_ts is already racked, spec §4.5's RACK_COLLISION metric.
var ErrCollision = errors.New("rack: collision on head rtp_ts")

type reelHeap []*reel.Reel

func (h reelHeap) Len() int { return len(h) }
func (h reelHeap) Less(i, j int) bool {
	return h[i].PeekNext().RTPTime < h[j].PeekNext().RTPTime
}
func (h reelHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reelHeap) Push(x any) { *h = append(*h, x.(*reel.Reel)) }
func (h *reelHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Rack orders reels by head rtp_ts.
type Rack struct {
	mu sync.Mutex

	order reelHeap
	byKey map[uint32]*reel.Reel

	highWater, lowWater int
	sink                metrics.Sink
}

// New builds a Rack with the configured high/low water marks (reel
// count) that gate Spooler back-pressure.
func New(highWater, lowWater int, sink metrics.Sink) *Rack {
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &Rack{
		byKey:     make(map[uint32]*reel.Reel),
		highWater: highWater,
		lowWater:  lowWater,
		sink:      sink,
	}
}

// Insert racks a non-empty reel keyed by its head rtp_ts.
func (rk *Rack) Insert(r *reel.Reel) error {
	rk.mu.Lock()
	defer rk.mu.Unlock()

	head := r.PeekNext()
	if head == nil {
		return nil // nothing to rack
	}

	key := head.RTPTime
	if _, exists := rk.byKey[key]; exists {
		rk.sink.Count(metrics.RackCollision, 1)
		return ErrCollision
	}

	rk.byKey[key] = r
	heap.Push(&rk.order, r)
	rk.sink.Count(metrics.RackedReels, 1)
	return nil
}

// PeekHead returns the reel with the smallest head rtp_ts, or nil.
func (rk *Rack) PeekHead() *reel.Reel {
	rk.mu.Lock()
	defer rk.mu.Unlock()

	if len(rk.order) == 0 {
		return nil
	}
	return rk.order[0]
}

// DropHead removes the head reel once it has been fully consumed or rendered.
func (rk *Rack) DropHead() {
	rk.mu.Lock()
	defer rk.mu.Unlock()
	rk.dropHeadLocked()
}

func (rk *Rack) dropHeadLocked() {
	if len(rk.order) == 0 {
		return
	}
	r := heap.Pop(&rk.order).(*reel.Reel)
	// The reel may be empty, and its head may have moved since it was
	// keyed, so look the entry up by value.
	for k, v := range rk.byKey {
		if v == r {
			delete(rk.byKey, k)
			break
		}
	}
}

// Len reports the number of racked reels.
func (rk *Rack) Len() int {
	rk.mu.Lock()
	defer rk.mu.Unlock()
	return len(rk.order)
}

// Full reports the high-water condition the Spooler must respect.
func (rk *Rack) Full() bool {
	return rk.Len() >= rk.highWater
}

// Drained reports the rack has fallen to or below the low-water mark,
// the signal the Spooler waits for before resuming socket reads.
func (rk *Rack) Drained() bool {
	return rk.Len() <= rk.lowWater
}

// FlushWindow applies fi to every racked reel, removing any that
// become empty, and reports how many reels were fully flushed.
func (rk *Rack) FlushWindow(fi reel.FlushInfo) int {
	rk.mu.Lock()
	defer rk.mu.Unlock()

	flushed := 0
	remaining := make(reelHeap, 0, len(rk.order))

	for _, r := range rk.order {
		oldKey := uint32(0)
		if head := r.PeekNext(); head != nil {
			oldKey = head.RTPTime
		}

		if r.Flush(fi) {
			flushed++
			delete(rk.byKey, oldKey)
			continue
		}

		if newHead := r.PeekNext(); newHead != nil && newHead.RTPTime != oldKey {
			delete(rk.byKey, oldKey)
			rk.byKey[newHead.RTPTime] = r
		}
		remaining = append(remaining, r)
	}

	rk.order = remaining
	heap.Init(&rk.order)

	if flushed > 0 {
		rk.sink.Count(metrics.ReelsFlushed, int64(flushed))
	}
	return flushed
}
