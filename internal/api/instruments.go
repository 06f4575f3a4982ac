package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetInstruments fetches a page of instruments.
func (c *Client) GetInstruments(ctx context.Context, opts GetInstrumentsOptions) (*InstrumentsResponse, error) {
	query := url.Values{}

	if opts.Venue != "" {
		query.Set("venue", opts.Venue)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}

	var resp InstrumentsResponse
	if err := c.get(ctx, "/instruments", query, &resp); err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}

	return &resp, nil
}

// GetAllInstruments fetches every instrument matching opts by paginating
// through results.
func (c *Client) GetAllInstruments(ctx context.Context, opts GetInstrumentsOptions) ([]APIInstrument, error) {
	var all []APIInstrument
	opts.Limit = 1000 // Max page size
	seen := make(map[string]bool)

	for {
		resp, err := c.GetInstruments(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Instruments...)

		if resp.Cursor == "" {
			break
		}
		if seen[resp.Cursor] {
			return nil, fmt.Errorf("get instruments: cursor %q repeated", resp.Cursor)
		}
		seen[resp.Cursor] = true
		opts.Cursor = resp.Cursor
	}

	return all, nil
}
