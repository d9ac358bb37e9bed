package pipeline

import (
	"context"
	"time"
)

const consumerPollInterval = time.Millisecond

// ProduceFrame fetches frame i and posts the undecoded pair to q. A fetch
// error aborts only this frame.
func (v *Video) ProduceFrame(ctx context.Context, q *FrameQueue, i int) error {
	if err := v.check(ctx); err != nil {
		return err
	}
	pair, err := v.fetch(i)
	if err != nil {
		return err
	}
	if err := q.Post(ctx, pair); err != nil {
		return err
	}
	v.produced.Add(1)
	return nil
}

// RunConsumer drains q, decoding each pair into the video's buffers, until q
// is closed, ctx is done or the video is closed.
func (v *Video) RunConsumer(ctx context.Context, q *FrameQueue) {
	timer := time.NewTimer(consumerPollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Done():
			return
		default:
		}
		if v.closed.Load() {
			return
		}
		if pair, ok := q.TryReceive(); ok {
			_ = v.decodePair(pair)
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(consumerPollInterval)
		select {
		case <-ctx.Done():
			return
		case <-q.Done():
			return
		case <-timer.C:
		}
	}
}
