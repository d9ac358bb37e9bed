package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ParallelDecoder decodes depth, color and background of one frame as
// concurrent tasks. Each task fetches its own blob. Frame-ready is signalled
// only after every task finished.
//
// There is no backpressure: callers that fire DecodeFrame on every tick rely
// on the tick period to bound the number of waiting frames.
type ParallelDecoder struct {
	v *Video
}

func NewParallelDecoder(v *Video) *ParallelDecoder {
	return &ParallelDecoder{v: v}
}

func (p *ParallelDecoder) DecodeFrame(ctx context.Context, i int) error {
	v := p.v
	if err := v.check(ctx); err != nil {
		return err
	}
	v.bufMu.Lock()
	defer v.bufMu.Unlock()

	// Codec errors leave a buffer stale without aborting the frame; fetch
	// errors abort it.
	var depthErr, colorErr, bgErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src, err := v.src.DepthBlob(i)
		if err != nil {
			return err
		}
		if gctx.Err() == nil {
			depthErr = v.decodeDepth(i, src)
		}
		return nil
	})
	g.Go(func() error {
		src, err := v.src.ColorBlob(i)
		if err != nil {
			return err
		}
		if gctx.Err() == nil {
			colorErr = v.decodeColor(i, src)
		}
		return nil
	})
	if v.bg != nil {
		g.Go(func() error {
			src, err := v.bg.BackgroundColorBlob(i)
			if err != nil {
				return err
			}
			if gctx.Err() == nil {
				bgErr = v.decodeBackground(i, src)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_, ferr := v.fetchFailed(i, err)
		return ferr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v.produced.Add(1)
	v.frameReadyLocked(i)
	return errors.Join(depthErr, colorErr, bgErr)
}
