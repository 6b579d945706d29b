package velodyne

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
	"golang.org/x/sync/errgroup"
)

// RawPacket is one captured datagram tagged with its position in the stream.
type RawPacket struct {
	Seq         uint64
	Data        []byte
	CaptureTime time.Time // zero when the source has no capture clock
}

// Result is the outcome of decoding one RawPacket. Err holds per-packet
// failures; they never stop the stream.
type Result struct {
	Seq         uint64
	Points      []lidar.Point
	Meta        PacketMeta
	CaptureTime time.Time
	Err         error
}

// maxPointsPerPacket bounds the points one packet can produce.
const maxPointsPerPacket = BLOCKS_PER_PACKET * SLOTS_PER_BLOCK

// DecodeParallel decodes packets on workers goroutines sharing dec and hands
// every Result to fn. fn is called from a single goroutine, in completion
// order; wrap it with Reorder when sequence order matters. workers <= 0 uses
// GOMAXPROCS.
//
// DecodeParallel returns when packets is closed and drained, when ctx is
// cancelled, or when fn returns an error, which is then returned.
func DecodeParallel(ctx context.Context, dec *Decoder, packets <-chan RawPacket, workers int, fn func(Result) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	diagf("parallel decode starting: model=%v workers=%d", dec.Model(), workers)

	g, ctx := errgroup.WithContext(ctx)
	results := make(chan Result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case raw, ok := <-packets:
					if !ok {
						return nil
					}
					res := decodeRaw(dec, raw)
					select {
					case results <- res:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		var decoded, failed int
		for res := range results {
			if res.Err != nil {
				failed++
			} else {
				decoded++
			}
			if err := fn(res); err != nil {
				opsf("parallel decode aborted by consumer after %d packets: %v", decoded+failed, err)
				return err
			}
		}
		diagf("parallel decode finished: %d packets decoded, %d rejected", decoded, failed)
		return nil
	})

	return g.Wait()
}

func decodeRaw(dec *Decoder, raw RawPacket) Result {
	res := Result{Seq: raw.Seq, CaptureTime: raw.CaptureTime}
	points, meta, err := dec.DecodeAppend(make([]lidar.Point, 0, maxPointsPerPacket), raw.Data)
	if err != nil {
		tracef("packet %d rejected: %v", raw.Seq, err)
		res.Err = err
		return res
	}
	res.Points = points
	res.Meta = meta
	return res
}

// Reorderer buffers out-of-order results and releases them in sequence order.
// It is not safe for concurrent use; DecodeParallel calls its consumer from
// one goroutine.
type Reorderer struct {
	next    uint64
	pending map[uint64]Result
}

// NewReorderer expects first to be the lowest sequence number of the stream.
func NewReorderer(first uint64) *Reorderer {
	return &Reorderer{next: first, pending: make(map[uint64]Result)}
}

// Push accepts one result and emits every result that is now in order.
// Results older than the next expected sequence are emitted immediately.
func (r *Reorderer) Push(res Result, emit func(Result) error) error {
	if res.Seq < r.next {
		return emit(res)
	}
	r.pending[res.Seq] = res
	for {
		next, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		delete(r.pending, r.next)
		r.next++
		if err := emit(next); err != nil {
			return err
		}
	}
}

// Pending is the number of buffered results waiting for a gap to fill.
func (r *Reorderer) Pending() int { return len(r.pending) }

// Flush emits every buffered result in sequence order, skipping gaps.
func (r *Reorderer) Flush(emit func(Result) error) error {
	seqs := make([]uint64, 0, len(r.pending))
	for seq := range r.pending {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	for _, seq := range seqs {
		res := r.pending[seq]
		delete(r.pending, seq)
		r.next = seq + 1
		if err := emit(res); err != nil {
			return err
		}
	}
	return nil
}

// Reorder wraps fn so that it sees results in sequence order starting at
// first. Call the returned flush once the stream has ended to release any
// results stranded behind a missing sequence number.
func Reorder(first uint64, fn func(Result) error) (consume func(Result) error, flush func() error) {
	r := NewReorderer(first)
	consume = func(res Result) error { return r.Push(res, fn) }
	flush = func() error { return r.Flush(fn) }
	return consume, flush
}
