package parse

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/rickgao/marketlake/internal/model"
)

// Parquet row layouts. Column names match the CSV headers.

type tradeRow struct {
	Timestamp      int64   `parquet:"timestamp"`
	LocalTimestamp int64   `parquet:"local_timestamp,optional"`
	ID             string  `parquet:"id,optional"`
	Side           string  `parquet:"side,optional"`
	Price          float64 `parquet:"price"`
	Amount         float64 `parquet:"amount"`
}

type quoteRow struct {
	Timestamp      int64   `parquet:"timestamp"`
	LocalTimestamp int64   `parquet:"local_timestamp,optional"`
	BidPrice       float64 `parquet:"bid_price"`
	BidAmount      float64 `parquet:"bid_amount"`
	AskPrice       float64 `parquet:"ask_price"`
	AskAmount      float64 `parquet:"ask_amount"`
}

type levelRow struct {
	Price  float64 `parquet:"price"`
	Amount float64 `parquet:"amount"`
}

type bookRow struct {
	Timestamp      int64      `parquet:"timestamp"`
	LocalTimestamp int64      `parquet:"local_timestamp,optional"`
	Bids           []levelRow `parquet:"bids,list"`
	Asks           []levelRow `parquet:"asks,list"`
}

type tickerRow struct {
	Timestamp        int64   `parquet:"timestamp"`
	LocalTimestamp   int64   `parquet:"local_timestamp,optional"`
	FundingTimestamp int64   `parquet:"funding_timestamp,optional"`
	FundingRate      float64 `parquet:"funding_rate,optional"`
	MarkPrice        float64 `parquet:"mark_price,optional"`
	IndexPrice       float64 `parquet:"index_price,optional"`
	LastPrice        float64 `parquet:"last_price,optional"`
	OpenInterest     float64 `parquet:"open_interest,optional"`
}

func parseParquetFile(path, dataType string, opts Options) (Batch, error) {
	b := Batch{DataType: dataType}
	switch dataType {
	case model.DataTypeTrades:
		rows, err := parquet.ReadFile[tradeRow](path)
		if err != nil {
			return Batch{}, fmt.Errorf("read parquet: %w", err)
		}
		b.Trades = make([]model.TradeEvent, len(rows))
		for i, r := range rows {
			b.Trades[i] = model.TradeEvent{
				Ts:      r.Timestamp,
				LocalTs: r.LocalTimestamp,
				TradeID: r.ID,
				Side:    normalizeSide(r.Side),
				Price:   r.Price,
				Amount:  r.Amount,
			}
		}
	case model.DataTypeQuotes:
		rows, err := parquet.ReadFile[quoteRow](path)
		if err != nil {
			return Batch{}, fmt.Errorf("read parquet: %w", err)
		}
		b.Quotes = make([]model.QuoteEvent, len(rows))
		for i, r := range rows {
			b.Quotes[i] = model.QuoteEvent{
				Ts:        r.Timestamp,
				LocalTs:   r.LocalTimestamp,
				BidPrice:  r.BidPrice,
				BidAmount: r.BidAmount,
				AskPrice:  r.AskPrice,
				AskAmount: r.AskAmount,
			}
		}
	case model.DataTypeBookSnapshot:
		rows, err := parquet.ReadFile[bookRow](path)
		if err != nil {
			return Batch{}, fmt.Errorf("read parquet: %w", err)
		}
		b.Books = make([]model.BookSnapshotEvent, len(rows))
		for i, r := range rows {
			b.Books[i] = model.BookSnapshotEvent{
				Ts:      r.Timestamp,
				LocalTs: r.LocalTimestamp,
				Bids:    truncateLevels(toLevels(r.Bids), opts.MaxBookLevels),
				Asks:    truncateLevels(toLevels(r.Asks), opts.MaxBookLevels),
			}
		}
	case model.DataTypeDerivativeTicker:
		rows, err := parquet.ReadFile[tickerRow](path)
		if err != nil {
			return Batch{}, fmt.Errorf("read parquet: %w", err)
		}
		b.Tickers = make([]model.DerivativeTickerEvent, len(rows))
		for i, r := range rows {
			b.Tickers[i] = model.DerivativeTickerEvent{
				Ts:           r.Timestamp,
				LocalTs:      r.LocalTimestamp,
				FundingRate:  r.FundingRate,
				FundingTs:    r.FundingTimestamp,
				MarkPrice:    r.MarkPrice,
				IndexPrice:   r.IndexPrice,
				LastPrice:    r.LastPrice,
				OpenInterest: r.OpenInterest,
			}
		}
	default:
		return Batch{}, unsupportedType(dataType)
	}
	return b, nil
}

func toLevels(rows []levelRow) []model.PriceLevel {
	if len(rows) == 0 {
		return nil
	}
	out := make([]model.PriceLevel, len(rows))
	for i, r := range rows {
		out[i] = model.PriceLevel{Price: r.Price, Amount: r.Amount}
	}
	return out
}
