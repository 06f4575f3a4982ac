// Package validate applies domain checks to parsed market-data rows. Every
// dropped row is counted under an explicit Reason.
package validate

import (
	"math"
	"sort"

	"github.com/rickgao/marketlake/internal/model"
)

// Reason names why a row was dropped.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonBadTimestamp     Reason = "bad_timestamp"
	ReasonOutsidePartition Reason = "outside_partition"
	ReasonNonMonotonic     Reason = "non_monotonic_ts"
	ReasonNegativeValue    Reason = "negative_value"
	ReasonNonPositivePrice Reason = "non_positive_price"
	ReasonCrossedBook      Reason = "crossed_book"
	ReasonUnsortedBook     Reason = "unsorted_book"
	ReasonNonFinite        Reason = "non_finite"
	ReasonOutOfRange       Reason = "out_of_range"
)

// Window is the half-open [Start, End) range a file's timestamps must fall in.
type Window struct {
	Start int64
	End   int64
}

// Contains reports whether ts is inside w.
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Report counts kept and dropped rows.
type Report struct {
	Kept    int
	Dropped map[Reason]int
}

// DroppedTotal returns the number of rows dropped for any reason.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Reasons returns the reasons with at least one drop, sorted.
func (r Report) Reasons() []Reason {
	out := make([]Reason, 0, len(r.Dropped))
	for reason := range r.Dropped {
		out = append(out, reason)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Filter keeps the rows that pass Check and every extra check, fall inside
// w and do not go back in time relative to the previous kept row. Equal
// timestamps are allowed. The input slice is not modified.
func Filter[T any](rows []T, event func(T) model.Event, w Window, extra ...func(T) Reason) ([]T, Report) {
	rep := Report{Dropped: make(map[Reason]int)}
	kept := make([]T, 0, len(rows))

	var last int64
	haveLast := false
	for _, row := range rows {
		e := event(row)
		reason := Check(e)
		for _, check := range extra {
			if reason != ReasonNone {
				break
			}
			reason = check(row)
		}
		if reason == ReasonNone && !w.Contains(e.EventTs()) {
			reason = ReasonOutsidePartition
		}
		if reason == ReasonNone && haveLast && e.EventTs() < last {
			reason = ReasonNonMonotonic
		}
		if reason != ReasonNone {
			rep.Dropped[reason]++
			continue
		}
		kept = append(kept, row)
		last, haveLast = e.EventTs(), true
	}
	rep.Kept = len(kept)
	return kept, rep
}

// Check returns the first row-local rule e breaks, or ReasonNone.
func Check(e model.Event) Reason {
	if e.EventTs() <= 0 {
		return ReasonBadTimestamp
	}
	if !allFinite(e) {
		return ReasonNonFinite
	}
	switch e := e.(type) {
	case model.TradeEvent:
		return checkTrade(e)
	case model.QuoteEvent:
		return checkQuote(e)
	case model.BookSnapshotEvent:
		return checkBook(e)
	case model.DerivativeTickerEvent:
		return checkTicker(e)
	}
	return ReasonNone
}

func checkTrade(e model.TradeEvent) Reason {
	if e.Price <= 0 {
		return ReasonNonPositivePrice
	}
	if e.Amount < 0 {
		return ReasonNegativeValue
	}
	return ReasonNone
}

func checkQuote(e model.QuoteEvent) Reason {
	if e.BidPrice < 0 || e.AskPrice < 0 || e.BidAmount < 0 || e.AskAmount < 0 {
		return ReasonNegativeValue
	}
	// A zero price is an empty side.
	if e.BidPrice > 0 && e.AskPrice > 0 && e.BidPrice >= e.AskPrice {
		return ReasonCrossedBook
	}
	return ReasonNone
}

func checkBook(e model.BookSnapshotEvent) Reason {
	for _, side := range [][]model.PriceLevel{e.Bids, e.Asks} {
		for _, l := range side {
			if l.Price <= 0 {
				return ReasonNonPositivePrice
			}
			if l.Amount < 0 {
				return ReasonNegativeValue
			}
		}
	}
	for i := 1; i < len(e.Bids); i++ {
		if e.Bids[i].Price >= e.Bids[i-1].Price {
			return ReasonUnsortedBook
		}
	}
	for i := 1; i < len(e.Asks); i++ {
		if e.Asks[i].Price <= e.Asks[i-1].Price {
			return ReasonUnsortedBook
		}
	}
	if len(e.Bids) > 0 && len(e.Asks) > 0 && e.Bids[0].Price >= e.Asks[0].Price {
		return ReasonCrossedBook
	}
	return ReasonNone
}

func checkTicker(e model.DerivativeTickerEvent) Reason {
	if e.MarkPrice < 0 || e.IndexPrice < 0 || e.LastPrice < 0 || e.OpenInterest < 0 {
		return ReasonNegativeValue
	}
	return ReasonNone
}

func allFinite(e model.Event) bool {
	switch e := e.(type) {
	case model.TradeEvent:
		return finite(e.Price, e.Amount)
	case model.QuoteEvent:
		return finite(e.BidPrice, e.BidAmount, e.AskPrice, e.AskAmount)
	case model.BookSnapshotEvent:
		for _, side := range [][]model.PriceLevel{e.Bids, e.Asks} {
			for _, l := range side {
				if !finite(l.Price, l.Amount) {
					return false
				}
			}
		}
	case model.DerivativeTickerEvent:
		return finite(e.FundingRate, e.MarkPrice, e.IndexPrice, e.LastPrice, e.OpenInterest)
	}
	return true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
