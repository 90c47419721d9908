package feed

import "context"

// PriceSourceAdapter is one upstream price/liquidity provider.
// Implementations must be safely callable concurrently for different
// tokens. A failed or malformed fetch returns an error; the feed moves
// to the next adapter in the chain.
type PriceSourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, token string) (Quote, error)
}
