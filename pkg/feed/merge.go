// Package feed maintains the newest-first, deduplicated transaction feed.
package feed

import "github.com/web3ekko/ekko-pulse/pkg/common"

// DefaultRetention is the default maximum feed length.
const DefaultRetention = 100

// Merge returns a new feed with incoming prepended in reverse order, so the
// last fetched transaction of a block comes first. A hash already present
// anywhere in existing (or earlier in the same batch) is dropped and the
// first-seen entry is kept unchanged. The result is trimmed from the tail to
// limit entries. Neither input is modified.
func Merge(existing, incoming []common.Transaction, limit int) []common.Transaction {
	if limit <= 0 {
		limit = DefaultRetention
	}

	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, tx := range existing {
		seen[tx.Hash] = struct{}{}
	}

	fresh := make([]common.Transaction, 0, len(incoming))
	for _, tx := range incoming {
		if _, dup := seen[tx.Hash]; dup {
			continue
		}
		seen[tx.Hash] = struct{}{}
		fresh = append(fresh, tx)
	}

	out := make([]common.Transaction, 0, min(len(fresh)+len(existing), limit))
	for i := len(fresh) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, fresh[i])
	}
	for i := 0; i < len(existing) && len(out) < limit; i++ {
		out = append(out, existing[i])
	}
	return common.CloneTransactions(out)
}
