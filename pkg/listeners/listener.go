package listeners

import "context"

// HeadSource produces new block numbers until ctx is cancelled.
// Run returns nil on cancellation and an error only when the source
// cannot continue at all.
type HeadSource interface {
	Run(ctx context.Context, queue *BlockQueue) error
}

// Seeder is implemented by head sources that need the height the consumer
// has already handled. Seed is called before Run.
type Seeder interface {
	Seed(head uint64)
}
