package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeRecord is an immutable append-only log entry, produced on every
// entry fill and every full or partial exit. Never mutated afterwards.
type TradeRecord struct {
	ID          string          `json:"id"`
	Token       string          `json:"token"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"` // buy|sell
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Amount      decimal.Decimal `json:"amount"`       // SOL
	TokenAmount decimal.Decimal `json:"token_amount"` // token units
	ProfitLoss  decimal.Decimal `json:"profit_loss"`  // SOL, zero for buys
	Reason      string          `json:"reason"`
	TxID        string          `json:"tx_id,omitempty"`
	Timestamp   time.Time       `json:"ts"`
}

// TradeLog keeps trade records in a capped in-memory buffer, oldest
// entries evicted FIFO once the cap is reached.
type TradeLog struct {
	mu      sync.Mutex
	records []TradeRecord
	maxBuf  int
}

// NewTradeLog creates a trade log holding up to maxBuf records.
func NewTradeLog(maxBuf int) *TradeLog {
	if maxBuf <= 0 {
		maxBuf = 5000
	}
	return &TradeLog{
		records: make([]TradeRecord, 0, maxBuf),
		maxBuf:  maxBuf,
	}
}

// Append stamps an ID and timestamp (when missing) and stores the record.
func (t *TradeLog) Append(r TradeRecord) TradeRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) >= t.maxBuf {
		copy(t.records, t.records[1:])
		t.records[len(t.records)-1] = r
	} else {
		t.records = append(t.records, r)
	}
	return r
}

// Records returns a copy of all records, oldest first.
func (t *TradeLog) Records() []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TradeRecord, len(t.records))
	copy(out, t.records)
	return out
}

// ForToken returns all records for a token, oldest first.
func (t *TradeLog) ForToken(token string) []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []TradeRecord
	for _, r := range t.records {
		if r.Token == token {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of buffered records.
func (t *TradeLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Restore replaces the buffer with persisted records, trimming to cap.
func (t *TradeLog) Restore(records []TradeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(records) > t.maxBuf {
		records = records[len(records)-t.maxBuf:]
	}
	t.records = make([]TradeRecord, len(records))
	copy(t.records, records)
}
