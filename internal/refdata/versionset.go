package refdata

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/model"
)

// VersionSet is every version of every instrument, grouped by natural key
// and sorted by ValidFrom. The zero value is an empty set.
type VersionSet struct {
	byKey map[model.NaturalKey][]model.InstrumentVersion
}

// NewVersionSet builds a set from persisted versions and checks the
// interval invariants: per key, ValidFrom < ValidUntil, no overlap, at most
// one open version and it is the last, IsCurrent iff open.
func NewVersionSet(versions []model.InstrumentVersion) (VersionSet, error) {
	byKey := make(map[model.NaturalKey][]model.InstrumentVersion)
	for _, v := range versions {
		byKey[v.Key] = append(byKey[v.Key], v)
	}
	for key, vs := range byKey {
		sort.Slice(vs, func(i, j int) bool { return vs[i].ValidFrom < vs[j].ValidFrom })
		if err := checkHistory(key, vs); err != nil {
			return VersionSet{}, err
		}
	}
	return VersionSet{byKey: byKey}, nil
}

func checkHistory(key model.NaturalKey, vs []model.InstrumentVersion) error {
	const op = "refdata.load"
	for i, v := range vs {
		if v.ValidFrom >= v.ValidUntil {
			return errs.E(errs.DataQuality, op, "%s: empty interval [%d, %d)", key, v.ValidFrom, v.ValidUntil)
		}
		open := v.ValidUntil == model.OpenValidUntil
		if v.IsCurrent != open {
			return errs.E(errs.DataQuality, op, "%s: version at %d has is_current=%v with valid_until %d", key, v.ValidFrom, v.IsCurrent, v.ValidUntil)
		}
		if i == 0 {
			continue
		}
		prev := vs[i-1]
		if prev.ValidUntil > v.ValidFrom {
			return errs.E(errs.DataQuality, op, "%s: versions at %d and %d overlap", key, prev.ValidFrom, v.ValidFrom)
		}
	}
	return nil
}

// Len returns the total number of versions.
func (s VersionSet) Len() int {
	n := 0
	for _, vs := range s.byKey {
		n += len(vs)
	}
	return n
}

// Keys returns every known natural key, sorted.
func (s VersionSet) Keys() []model.NaturalKey {
	keys := slices.Collect(maps.Keys(s.byKey))
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Has reports whether key has ever been listed.
func (s VersionSet) Has(key model.NaturalKey) bool {
	return len(s.byKey[key]) > 0
}

// History returns a copy of key's versions ordered by ValidFrom.
func (s VersionSet) History(key model.NaturalKey) []model.InstrumentVersion {
	return slices.Clone(s.byKey[key])
}

// Versions returns every version ordered by key, then ValidFrom.
func (s VersionSet) Versions() []model.InstrumentVersion {
	out := make([]model.InstrumentVersion, 0, s.Len())
	for _, key := range s.Keys() {
		out = append(out, s.byKey[key]...)
	}
	return out
}

// Current returns key's open version.
func (s VersionSet) Current(key model.NaturalKey) (model.InstrumentVersion, bool) {
	vs := s.byKey[key]
	if n := len(vs); n > 0 && vs[n-1].IsCurrent {
		return vs[n-1], true
	}
	return model.InstrumentVersion{}, false
}

// CurrentRecords returns the snapshot implied by the open versions, sorted by key.
func (s VersionSet) CurrentRecords() []model.InstrumentRecord {
	var out []model.InstrumentRecord
	for _, key := range s.Keys() {
		if v, ok := s.Current(key); ok {
			out = append(out, model.InstrumentRecord{Key: v.Key, Attrs: v.Attrs})
		}
	}
	return out
}

func compareKeys(a, b model.NaturalKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func openVersion(key model.NaturalKey, attrs model.InstrumentAttrs, validFrom int64) model.InstrumentVersion {
	return model.InstrumentVersion{
		Key:        key,
		InstanceID: InstanceID(key, validFrom),
		Attrs:      attrs,
		ValidFrom:  validFrom,
		ValidUntil: model.OpenValidUntil,
		IsCurrent:  true,
	}
}

// Bootstrap opens one version per record at effectiveTs.
func Bootstrap(snapshot []model.InstrumentRecord, effectiveTs int64) (VersionSet, error) {
	const op = "refdata.bootstrap"
	if err := checkSnapshot(op, snapshot); err != nil {
		return VersionSet{}, err
	}
	if effectiveTs == model.OpenValidUntil {
		return VersionSet{}, errs.E(errs.UserInput, op, "effective ts %d is the open sentinel", effectiveTs)
	}

	byKey := make(map[model.NaturalKey][]model.InstrumentVersion, len(snapshot))
	for _, r := range snapshot {
		byKey[r.Key] = []model.InstrumentVersion{openVersion(r.Key, r.Attrs, effectiveTs)}
	}
	return VersionSet{byKey: byKey}, nil
}

// checkSnapshot rejects duplicate keys and unusable records.
func checkSnapshot(op string, snapshot []model.InstrumentRecord) error {
	seen := make(map[model.NaturalKey]struct{}, len(snapshot))
	for _, r := range snapshot {
		if _, dup := seen[r.Key]; dup {
			return errs.E(errs.UserInput, op, "duplicate natural key %s in snapshot", r.Key)
		}
		seen[r.Key] = struct{}{}
		if err := checkRecord(op, r.Key, r.Attrs); err != nil {
			return err
		}
	}
	return nil
}

func checkRecord(op string, key model.NaturalKey, a model.InstrumentAttrs) error {
	if key.VenueSymbol == "" {
		return errs.E(errs.UserInput, op, "empty venue symbol for venue %d", key.VenueID)
	}
	if !a.Kind.Valid() {
		return errs.E(errs.UserInput, op, "%s: unknown instrument kind %q", key, a.Kind)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"tick_size", a.TickSize},
		{"lot_size", a.LotSize},
		{"contract_size", a.ContractSize},
	} {
		if !isFinite(f.v) || f.v <= 0 {
			return errs.E(errs.UserInput, op, "%s: %s must be finite and > 0, got %v", key, f.name, f.v)
		}
	}
	if a.Strike != nil && !isFinite(*a.Strike) {
		return errs.E(errs.UserInput, op, "%s: strike must be finite, got %v", key, *a.Strike)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Diff is the change between two full snapshots.
type Diff struct {
	EffectiveTs int64
	NewListings []model.InstrumentRecord // Keys absent from prev
	Modified    []model.InstrumentRecord // Keys in both with changed attrs (new attrs)
	Delisted    []model.NaturalKey       // Keys absent from curr
	Unchanged   int
}

// Empty reports whether applying d changes nothing.
func (d Diff) Empty() bool {
	return len(d.NewListings) == 0 && len(d.Modified) == 0 && len(d.Delisted) == 0
}

// ComputeDiff compares full snapshots. A nil prev means every record in
// curr is a new listing. Output slices are sorted by key.
func ComputeDiff(prev, curr []model.InstrumentRecord, effectiveTs int64) (Diff, error) {
	const op = "refdata.diff"
	if err := checkSnapshot(op, prev); err != nil {
		return Diff{}, err
	}
	if err := checkSnapshot(op, curr); err != nil {
		return Diff{}, err
	}

	d := Diff{EffectiveTs: effectiveTs}
	before := make(map[model.NaturalKey]model.InstrumentAttrs, len(prev))
	for _, r := range prev {
		before[r.Key] = r.Attrs
	}

	inCurr := make(map[model.NaturalKey]struct{}, len(curr))
	for _, r := range curr {
		inCurr[r.Key] = struct{}{}
		old, ok := before[r.Key]
		switch {
		case !ok:
			d.NewListings = append(d.NewListings, r)
		case !AttrsEqual(old, r.Attrs):
			d.Modified = append(d.Modified, r)
		default:
			d.Unchanged++
		}
	}
	for _, r := range prev {
		if _, ok := inCurr[r.Key]; !ok {
			d.Delisted = append(d.Delisted, r.Key)
		}
	}

	byKey := func(a, b model.InstrumentRecord) int { return compareKeys(a.Key, b.Key) }
	slices.SortFunc(d.NewListings, byKey)
	slices.SortFunc(d.Modified, byKey)
	slices.SortFunc(d.Delisted, compareKeys)
	return d, nil
}

// Apply returns a new set with d applied. Open versions of modified and
// delisted keys close at d.EffectiveTs, modified keys and new listings open
// new versions there. Updates are forward-only: on any violation Apply
// returns an error and s is unchanged.
func (s VersionSet) Apply(d Diff) (VersionSet, error) {
	const op = "refdata.apply"
	ts := d.EffectiveTs
	if ts == model.OpenValidUntil {
		return s, errs.E(errs.UserInput, op, "effective ts %d is the open sentinel", ts)
	}

	touched := make(map[model.NaturalKey]struct{})
	claim := func(key model.NaturalKey) error {
		if _, dup := touched[key]; dup {
			return errs.E(errs.UserInput, op, "key %s appears more than once in diff", key)
		}
		touched[key] = struct{}{}
		return nil
	}

	// Copy-on-write: only touched keys get fresh slices.
	next := maps.Clone(s.byKey)
	if next == nil {
		next = make(map[model.NaturalKey][]model.InstrumentVersion)
	}

	closeOpen := func(key model.NaturalKey) error {
		vs := next[key]
		n := len(vs)
		if n == 0 || !vs[n-1].IsCurrent {
			return errs.E(errs.ForwardOnlyViolation, op, "%s has no open version to close at %d", key, ts)
		}
		if ts <= vs[n-1].ValidFrom {
			return errs.E(errs.ForwardOnlyViolation, op,
				"%s: effective ts %d is not after open version start %d", key, ts, vs[n-1].ValidFrom)
		}
		vs = slices.Clone(vs)
		vs[n-1].ValidUntil = ts
		vs[n-1].IsCurrent = false
		next[key] = vs
		return nil
	}

	for _, key := range d.Delisted {
		if err := claim(key); err != nil {
			return s, err
		}
		if err := closeOpen(key); err != nil {
			return s, err
		}
	}

	for _, r := range d.Modified {
		if err := claim(r.Key); err != nil {
			return s, err
		}
		if err := checkRecord(op, r.Key, r.Attrs); err != nil {
			return s, err
		}
		if err := closeOpen(r.Key); err != nil {
			return s, err
		}
		next[r.Key] = append(next[r.Key], openVersion(r.Key, r.Attrs, ts))
	}

	for _, r := range d.NewListings {
		if err := claim(r.Key); err != nil {
			return s, err
		}
		if err := checkRecord(op, r.Key, r.Attrs); err != nil {
			return s, err
		}
		vs := next[r.Key]
		if n := len(vs); n > 0 {
			last := vs[n-1]
			if last.IsCurrent {
				return s, errs.E(errs.ForwardOnlyViolation, op, "%s is already listed since %d", r.Key, last.ValidFrom)
			}
			if ts < last.ValidUntil {
				return s, errs.E(errs.ForwardOnlyViolation, op,
					"%s: relisting at %d precedes delisting at %d", r.Key, ts, last.ValidUntil)
			}
		}
		next[r.Key] = append(slices.Clone(vs), openVersion(r.Key, r.Attrs, ts))
	}

	return VersionSet{byKey: next}, nil
}

// RebuildFromHistory builds a set from unordered state-change rows. Each
// row's ValidUntil is the next row's ValidFrom for the same key; the last
// row per key stays open.
func RebuildFromHistory(rows []model.HistoryRow) (VersionSet, error) {
	const op = "refdata.rebuild"

	grouped := make(map[model.NaturalKey][]model.HistoryRow)
	for _, r := range rows {
		if err := checkRecord(op, r.Key, r.Attrs); err != nil {
			return VersionSet{}, err
		}
		if r.ValidFrom == model.OpenValidUntil {
			return VersionSet{}, errs.E(errs.UserInput, op, "%s: valid_from is the open sentinel", r.Key)
		}
		grouped[r.Key] = append(grouped[r.Key], r)
	}

	byKey := make(map[model.NaturalKey][]model.InstrumentVersion, len(grouped))
	for key, hs := range grouped {
		sort.SliceStable(hs, func(i, j int) bool { return hs[i].ValidFrom < hs[j].ValidFrom })

		vs := make([]model.InstrumentVersion, len(hs))
		for i, h := range hs {
			if i > 0 && hs[i-1].ValidFrom == h.ValidFrom {
				return VersionSet{}, errs.E(errs.UserInput, op, "%s has two rows at valid_from %d", key, h.ValidFrom)
			}
			vs[i] = openVersion(key, h.Attrs, h.ValidFrom)
			if i > 0 {
				vs[i-1].ValidUntil = h.ValidFrom
				vs[i-1].IsCurrent = false
			}
		}
		byKey[key] = vs
	}
	return VersionSet{byKey: byKey}, nil
}

// Coverage classifies how well a key's history covers a time range.
type Coverage int

const (
	Covered Coverage = iota
	// MissingSymbol means the key was never listed.
	MissingSymbol
	// InvalidValidityWindow means the key is known but its versions leave
	// part of the range uncovered.
	InvalidValidityWindow
)

func (c Coverage) String() string {
	switch c {
	case Covered:
		return "covered"
	case MissingSymbol:
		return string(model.ReasonMissingSymbol)
	case InvalidValidityWindow:
		return string(model.ReasonInvalidValidityWindow)
	}
	return fmt.Sprintf("coverage(%d)", int(c))
}

// QuarantineReason maps an uncovered classification to its ledger reason.
func (c Coverage) QuarantineReason() model.QuarantineReason {
	switch c {
	case MissingSymbol:
		return model.ReasonMissingSymbol
	case InvalidValidityWindow:
		return model.ReasonInvalidValidityWindow
	}
	return model.ReasonNone
}

// CheckCoverage reports whether key's versions overlapping [start, end)
// span it without a gap. An empty range is never covered.
func (s VersionSet) CheckCoverage(key model.NaturalKey, start, end int64) bool {
	if start >= end {
		return false
	}
	cursor := start
	for _, v := range s.byKey[key] {
		if v.ValidUntil <= cursor {
			continue
		}
		if v.ValidFrom > cursor {
			return false
		}
		cursor = v.ValidUntil
		if cursor >= end {
			return true
		}
	}
	return false
}

// Classify explains a coverage check.
func (s VersionSet) Classify(key model.NaturalKey, start, end int64) Coverage {
	if !s.Has(key) {
		return MissingSymbol
	}
	if s.CheckCoverage(key, start, end) {
		return Covered
	}
	return InvalidValidityWindow
}

// ResolveAt returns the version of key valid at ts.
func (s VersionSet) ResolveAt(key model.NaturalKey, ts int64) (model.InstrumentVersion, bool) {
	vs := s.byKey[key]
	// First version starting after ts; the candidate is the one before it.
	i := sort.Search(len(vs), func(i int) bool { return vs[i].ValidFrom > ts })
	if i == 0 {
		return model.InstrumentVersion{}, false
	}
	if v := vs[i-1]; v.Contains(ts) {
		return v, true
	}
	return model.InstrumentVersion{}, false
}

// Lookup is one as-of query.
type Lookup struct {
	Key model.NaturalKey
	Ts  int64
}

// Resolution is the answer to a Lookup. Found is false in a gap or for an unknown key.
type Resolution struct {
	Version model.InstrumentVersion
	Found   bool
}

// Resolve answers lookups in order.
func (s VersionSet) Resolve(lookups []Lookup) []Resolution {
	out := make([]Resolution, len(lookups))
	for i, l := range lookups {
		out[i].Version, out[i].Found = s.ResolveAt(l.Key, l.Ts)
	}
	return out
}
