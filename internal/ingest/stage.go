package ingest

import (
	"context"

	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
	"github.com/rickgao/marketlake/internal/refdata"
	"github.com/rickgao/marketlake/internal/validate"
)

type buildInput struct {
	set    refdata.VersionSet
	key    model.NaturalKey
	window validate.Window
	header model.SilverHeader // InstanceID is filled per row
}

type resolved[E model.Event, S any] struct {
	event E
	row   S
	ok    bool // row encoded without overflow
}

// staged holds one file's encoded silver rows ready to commit.
type staged struct {
	rows       int
	unresolved int
	report     validate.Report
	tsMin      int64
	tsMax      int64
	commit     func(ctx context.Context, pred lake.Predicate) error
}

// stage resolves each event to the instrument version valid at its
// timestamp, drops unresolved and invalid rows, and encodes the rest.
func stage[E model.Event, S any](
	ls lake.Store,
	sc lake.Schema[S],
	in buildInput,
	events []E,
	encode func(model.SilverHeader, E, model.InstrumentAttrs) (S, bool),
) staged {
	var st staged

	rs := make([]resolved[E, S], 0, len(events))
	for _, e := range events {
		v, ok := in.set.ResolveAt(in.key, e.EventTs())
		if !ok {
			st.unresolved++
			continue
		}
		h := in.header
		h.InstanceID = v.InstanceID
		row, ok := encode(h, e, v.Attrs)
		rs = append(rs, resolved[E, S]{event: e, row: row, ok: ok})
	}

	encodable := func(r resolved[E, S]) validate.Reason {
		if !r.ok {
			return validate.ReasonOutOfRange
		}
		return validate.ReasonNone
	}
	kept, report := validate.Filter(rs, func(r resolved[E, S]) model.Event { return r.event }, in.window, encodable)
	st.report = report

	rows := make([]S, len(kept))
	for i, r := range kept {
		rows[i] = r.row

		ts := r.event.EventTs()
		if i == 0 {
			st.tsMin, st.tsMax = ts, ts
		}
		st.tsMin = min(st.tsMin, ts)
		st.tsMax = max(st.tsMax, ts)
	}
	st.rows = len(rows)
	st.commit = func(ctx context.Context, pred lake.Predicate) error {
		return lake.OverwritePartition(ctx, ls, sc, pred, rows)
	}
	return st
}
