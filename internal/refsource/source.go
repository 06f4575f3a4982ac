package refsource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketlake/internal/api"
	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/model"
)

// Source yields full reference-data snapshots.
type Source interface {
	Snapshot(ctx context.Context) ([]model.InstrumentRecord, error)
}

// instrumentLister is the part of api.Client used by HTTP.
type instrumentLister interface {
	GetAllInstruments(ctx context.Context, opts api.GetInstrumentsOptions) ([]api.APIInstrument, error)
}

// HTTP is a Source backed by a vendor instrument listing.
type HTTP struct {
	client  instrumentLister
	venue   string
	venueID int16
	logger  *slog.Logger
}

// NewHTTP creates a Source listing venue's instruments. venueID is the
// venue id the records are keyed under.
func NewHTTP(client *api.Client, venue string, venueID int16, logger *slog.Logger) *HTTP {
	return newHTTP(client, venue, venueID, logger)
}

func newHTTP(client instrumentLister, venue string, venueID int16, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		client:  client,
		venue:   venue,
		venueID: venueID,
		logger:  logger,
	}
}

// Snapshot implements Source. Instruments that are no longer listed are
// left out. Any instrument that cannot be converted fails the whole
// snapshot, since dropping it would read as a delisting.
func (h *HTTP) Snapshot(ctx context.Context) ([]model.InstrumentRecord, error) {
	const op = "refsource.http_snapshot"

	instruments, err := h.client.GetAllInstruments(ctx, api.GetInstrumentsOptions{Venue: h.venue})
	if err != nil {
		return nil, errs.Wrap(errs.Infra, op, err)
	}

	out := make([]model.InstrumentRecord, 0, len(instruments))
	skipped := 0
	for i := range instruments {
		inst := &instruments[i]
		if !inst.IsListed() {
			skipped++
			continue
		}
		rec, err := inst.ToRecord(h.venueID)
		if err != nil {
			return nil, errs.Wrap(errs.DataQuality, op, err)
		}
		out = append(out, rec)
	}

	h.logger.Debug("fetched reference snapshot",
		"venue", h.venue,
		"instruments", len(out),
		"unlisted", skipped,
	)
	return out, nil
}

func (h *HTTP) String() string {
	return fmt.Sprintf("http:%s", h.venue)
}
