package model

// Data types found in bronze paths (data_type=<...>).
const (
	DataTypeTrades           = "trades"
	DataTypeQuotes           = "quotes"
	DataTypeBookSnapshot     = "book_snapshot"
	DataTypeDerivativeTicker = "derivative_ticker"
)

// Event is any parsed bronze market-data row.
type Event interface {
	EventTs() int64
}

// -----------------------------------------------------------------------------
// Bronze Types (parsed, vendor units)
// -----------------------------------------------------------------------------

// TradeEvent is an executed trade print.
type TradeEvent struct {
	Ts      int64   // Exchange timestamp (µs since epoch)
	LocalTs int64   // Capture timestamp (µs since epoch)
	TradeID string  // Venue trade id, may be empty
	Side    string  // "buy", "sell" or "" when unknown
	Price   float64 // Quote-asset price
	Amount  float64 // Base-asset quantity
}

func (e TradeEvent) EventTs() int64 { return e.Ts }

// QuoteEvent is a top-of-book quote.
type QuoteEvent struct {
	Ts        int64
	LocalTs   int64
	BidPrice  float64
	BidAmount float64
	AskPrice  float64
	AskAmount float64
}

func (e QuoteEvent) EventTs() int64 { return e.Ts }

// PriceLevel is a single price level in an order book.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// BookSnapshotEvent is a top-N order book snapshot.
// Bids are sorted best (highest) first, asks best (lowest) first.
type BookSnapshotEvent struct {
	Ts      int64
	LocalTs int64
	Bids    []PriceLevel
	Asks    []PriceLevel
}

func (e BookSnapshotEvent) EventTs() int64 { return e.Ts }

// DerivativeTickerEvent is a derivatives ticker update.
type DerivativeTickerEvent struct {
	Ts           int64
	LocalTs      int64
	FundingRate  float64
	FundingTs    int64 // Next funding time (µs since epoch), 0 if unknown
	MarkPrice    float64
	IndexPrice   float64
	LastPrice    float64
	OpenInterest float64
}

func (e DerivativeTickerEvent) EventTs() int64 { return e.Ts }

// -----------------------------------------------------------------------------
// Silver Types (validated, instrument-resolved, integer-encoded)
// -----------------------------------------------------------------------------

// SilverHeader holds the partition and lineage columns shared by silver rows.
type SilverHeader struct {
	Exchange   string
	Date       string // YYYY-MM-DD
	FileID     int32
	InstanceID int64
}

// SilverTrade is a committed trade.
type SilverTrade struct {
	SilverHeader
	Ts         int64
	LocalTs    int64
	TradeID    string
	Side       int8 // 1 = buy, -1 = sell, 0 = unknown
	PriceTicks int64
	QtyLots    int64
}

// SilverQuote is a committed top-of-book quote.
type SilverQuote struct {
	SilverHeader
	Ts       int64
	LocalTs  int64
	BidTicks int64
	BidLots  int64
	AskTicks int64
	AskLots  int64
}

// SilverBookSnapshot is a committed book snapshot.
// Levels are JSON arrays of [ticks, lots] pairs.
type SilverBookSnapshot struct {
	SilverHeader
	Ts      int64
	LocalTs int64
	Bids    string
	Asks    string
	BestBid int64 // 0 if side empty
	BestAsk int64 // 0 if side empty
	Depth   int32 // max(len(bids), len(asks))
}

// SilverDerivativeTicker is a committed derivatives ticker.
type SilverDerivativeTicker struct {
	SilverHeader
	Ts           int64
	LocalTs      int64
	FundingRate  float64
	FundingTs    int64
	MarkTicks    int64
	IndexTicks   int64
	LastTicks    int64
	OpenInterest float64
}
