package contracts

import "context"

// TradingGate is checked before every order submission
type TradingGate interface {
	IsTradingEnabled() bool
}

// QuoteSource delivers quotes to the engine
type QuoteSource interface {
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
}
