// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package marketdata defines the market data collaborator consumed by the
// market-data capability provider. Failures here degrade the pipeline
// stage that needed the data; they never abort a run.
package marketdata

import (
	"context"
	"time"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Point is one entry in a price history series.
type Point struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// Provider fetches quotes and price history. Callers apply a bounded
// timeout via ctx.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	History(ctx context.Context, symbol, period string) ([]Point, error)
}

// baseline prices for the major index symbols the analysis defaults to.
var baselines = map[string]struct {
	price  float64
	change float64
}{
	"^GSPC": {5918.25, 14.77},
	"^IXIC": {19060.48, -37.31},
	"^DJI":  {43870.35, 62.12},
	"^VIX":  {16.87, -0.42},
	"SPY":   {590.12, 1.41},
	"AGG":   {99.38, 0.06},
}

// periodDays maps the history periods the original data feeds accept.
var periodDays = map[string]int{
	"1mo": 21,
	"3mo": 63,
	"6mo": 126,
	"1y":  252,
}

// StaticProvider serves deterministic quotes and history from fixed
// tables. It is the default provider so analysis runs are reproducible
// and work offline; a live feed plugs in behind the same interface.
type StaticProvider struct {
	now func() time.Time
}

// NewStaticProvider creates a deterministic provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{now: time.Now}
}

func (p *StaticProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	base, ok := baselines[symbol]
	if !ok {
		return Quote{}, finerr.Errorf(finerr.CodeMarketDataUnavailable, "no data for symbol %q", symbol)
	}

	changePct := 0.0
	if base.price != base.change {
		changePct = base.change / (base.price - base.change) * 100
	}

	return Quote{
		Symbol:        symbol,
		Price:         base.price,
		Change:        base.change,
		ChangePercent: changePct,
		Timestamp:     p.now().UTC(),
	}, nil
}

func (p *StaticProvider) History(ctx context.Context, symbol, period string) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, ok := baselines[symbol]
	if !ok {
		return nil, finerr.Errorf(finerr.CodeMarketDataUnavailable, "no data for symbol %q", symbol)
	}

	days, ok := periodDays[period]
	if !ok {
		return nil, finerr.Errorf(finerr.CodeMarketDataUnavailable, "unsupported period %q", period)
	}

	// Walk the series backwards from the baseline using the daily change
	// as a fixed drift. Deterministic by construction.
	end := p.now().UTC().Truncate(24 * time.Hour)
	points := make([]Point, 0, days)
	for i := days - 1; i >= 0; i-- {
		points = append(points, Point{
			Date:  end.AddDate(0, 0, -i),
			Price: base.price - base.change*float64(i),
		})
	}
	return points, nil
}
