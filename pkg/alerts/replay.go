package alerts

import (
	"context"
	"time"

	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// Replay calls fn for each event once its delay has elapsed, measured from
// the call to Replay. Events fire in delay order. It returns ctx.Err() if
// cancelled before the last event fires.
func Replay(ctx context.Context, events []common.AlertEvent, fn func(common.AlertEvent)) error {
	start := time.Now()
	for _, ev := range events {
		wait := ev.Delay - time.Since(start)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		fn(ev)
	}
	return nil
}
