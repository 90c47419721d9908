package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeLogAppendStamps(t *testing.T) {
	log := NewTradeLog(10)
	r := log.Append(TradeRecord{Token: "tok", Side: "buy"})

	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, 1, log.Len())
}

func TestTradeLogEvictsOldestAtCap(t *testing.T) {
	log := NewTradeLog(3)
	for i := 0; i < 5; i++ {
		log.Append(TradeRecord{Token: fmt.Sprintf("tok%d", i)})
	}

	records := log.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "tok2", records[0].Token)
	assert.Equal(t, "tok4", records[2].Token)
}

func TestTradeLogForToken(t *testing.T) {
	log := NewTradeLog(10)
	log.Append(TradeRecord{Token: "a", Side: "buy"})
	log.Append(TradeRecord{Token: "b", Side: "buy"})
	log.Append(TradeRecord{Token: "a", Side: "sell"})

	got := log.ForToken("a")
	require.Len(t, got, 2)
	assert.Equal(t, "buy", got[0].Side)
	assert.Equal(t, "sell", got[1].Side)
}

func TestTradeLogRestoreTrimsToCap(t *testing.T) {
	log := NewTradeLog(2)
	restored := []TradeRecord{
		{Token: "old"},
		{Token: "mid"},
		{Token: "new"},
	}
	log.Restore(restored)

	records := log.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "mid", records[0].Token)
	assert.Equal(t, "new", records[1].Token)
}
