package model

import (
	"fmt"
	"math"
)

// OpenValidUntil marks a version that has not been closed yet.
const OpenValidUntil int64 = math.MaxInt64

// -----------------------------------------------------------------------------
// Reference Data Types
// -----------------------------------------------------------------------------

// NaturalKey is the venue-assigned identity of an instrument.
type NaturalKey struct {
	VenueID     int16  // Venue id (see config venues)
	VenueSymbol string // Symbol as the venue spells it (e.g., "BTCUSDT")
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%d:%s", k.VenueID, k.VenueSymbol)
}

// Less orders keys by venue, then symbol.
func (k NaturalKey) Less(o NaturalKey) bool {
	if k.VenueID != o.VenueID {
		return k.VenueID < o.VenueID
	}
	return k.VenueSymbol < o.VenueSymbol
}

// InstrumentKind is the contract type of an instrument.
type InstrumentKind string

const (
	KindSpot      InstrumentKind = "spot"
	KindPerpetual InstrumentKind = "perpetual"
	KindFuture    InstrumentKind = "future"
	KindOption    InstrumentKind = "option"
)

// Valid reports whether k is a known instrument kind.
func (k InstrumentKind) Valid() bool {
	switch k {
	case KindSpot, KindPerpetual, KindFuture, KindOption:
		return true
	}
	return false
}

// InstrumentAttrs holds the tracked attributes of an instrument.
// A change in any of them produces a new version.
type InstrumentAttrs struct {
	BaseAsset    string
	QuoteAsset   string
	Kind         InstrumentKind
	TickSize     float64
	LotSize      float64
	ContractSize float64

	// Kind-specific, nil when not applicable.
	Expiry     *int64   // Expiry (µs since epoch), futures and options
	Strike     *float64 // Strike price, options
	OptionType string   // "call" or "put", options
	Underlying string   // Underlying index or symbol, derivatives
}

// InstrumentRecord is one row of a reference-data snapshot.
type InstrumentRecord struct {
	Key   NaturalKey
	Attrs InstrumentAttrs
}

// InstrumentVersion is one validity interval of one instrument.
type InstrumentVersion struct {
	Key        NaturalKey
	InstanceID int64 // Derived from (Key, ValidFrom)
	Attrs      InstrumentAttrs
	ValidFrom  int64 // Inclusive (µs since epoch)
	ValidUntil int64 // Exclusive (µs since epoch), OpenValidUntil while current
	IsCurrent  bool
}

// Contains reports whether ts falls inside [ValidFrom, ValidUntil).
func (v InstrumentVersion) Contains(ts int64) bool {
	return ts >= v.ValidFrom && ts < v.ValidUntil
}

// HistoryRow is one historical state-change event used to rebuild versions.
type HistoryRow struct {
	Key       NaturalKey
	Attrs     InstrumentAttrs
	ValidFrom int64
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
