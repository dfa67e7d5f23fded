package mutualinfo

import "context"

// Consume feeds every interval from in to e, flushing whenever the segment
// changes. It returns when in is closed or ctx is done. The estimator is not
// finalized.
func Consume(ctx context.Context, e *Estimator, in <-chan Interval) error {
	segment, started := "", false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case iv, ok := <-in:
			if !ok {
				return nil
			}
			if started && iv.Segment != segment {
				e.Flush()
			}
			segment, started = iv.Segment, true

			if err := e.Add(iv); err != nil {
				return err
			}
		}
	}
}
