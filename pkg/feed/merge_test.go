package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-pulse/pkg/common"
)

func tx(hash, value string) common.Transaction {
	return common.Transaction{Hash: hash, Value: value, Type: common.TxTypeTransfer}
}

func hashes(txs []common.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.Hash
	}
	return out
}

func TestMerge_PrependsInReverseFetchOrder(t *testing.T) {
	existing := []common.Transaction{tx("x", "1.0")}
	got := Merge(existing, []common.Transaction{tx("a", "1.0"), tx("b", "1.0"), tx("c", "1.0")}, 100)
	assert.Equal(t, []string{"c", "b", "a", "x"}, hashes(got))
}

func TestMerge_GlobalDedupKeepsFirstSeen(t *testing.T) {
	first := Merge(nil, []common.Transaction{tx("a", "1.0"), tx("b", "2.0")}, 100)
	second := Merge(first, []common.Transaction{tx("c", "3.0"), tx("a", "9.9")}, 100)

	assert.Equal(t, []string{"c", "b", "a"}, hashes(second))
	for _, entry := range second {
		if entry.Hash == "a" {
			assert.Equal(t, "1.0", entry.Value)
		}
	}
}

func TestMerge_DedupWithinBatch(t *testing.T) {
	got := Merge(nil, []common.Transaction{tx("a", "1.0"), tx("a", "2.0")}, 100)
	require.Len(t, got, 1)
	assert.Equal(t, "1.0", got[0].Value)
}

func TestMerge_Idempotent(t *testing.T) {
	batch := []common.Transaction{tx("a", "1.0"), tx("b", "2.0")}
	once := Merge(nil, batch, 100)
	twice := Merge(once, batch, 100)
	assert.Equal(t, once, twice)
}

func TestMerge_TrimsTail(t *testing.T) {
	var existing []common.Transaction
	for i := 0; i < 5; i++ {
		existing = append(existing, tx(fmt.Sprintf("old-%d", i), "1.0"))
	}
	got := Merge(existing, []common.Transaction{tx("n1", "1.0"), tx("n2", "1.0")}, 4)
	assert.Equal(t, []string{"n2", "n1", "old-0", "old-1"}, hashes(got))
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	to := "0xabc"
	existing := []common.Transaction{{Hash: "a", To: &to}}
	got := Merge(existing, nil, 100)
	require.Len(t, got, 1)

	*got[0].To = "0xdef"
	assert.Equal(t, "0xabc", *existing[0].To)
}
