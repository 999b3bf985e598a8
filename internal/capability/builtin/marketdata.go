// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package builtin

import (
	"context"

	"github.com/finsight-dev/finsight/internal/capability"
	"github.com/finsight-dev/finsight/internal/marketdata"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

const marketDataManifest = `
name: market-data
version: 1.2.0
description: Quotes and price history for index and fund symbols.
category: market-data
tools:
  - name: get_quote
    description: Current price, change, and change percent for a symbol.
    input_schema:
      symbol: string
  - name: get_history
    description: Ordered date/price series for a symbol over a period.
    input_schema:
      symbol: string
      period: "string (1mo|3mo|6mo|1y)"
config_schema:
  default_symbol: string
`

type marketDataProvider struct {
	manifest      capability.Manifest
	upstream      marketdata.Provider
	defaultSymbol string
}

func newMarketDataProvider(upstream marketdata.Provider) *marketDataProvider {
	return &marketDataProvider{
		manifest: mustManifest(marketDataManifest),
		upstream: upstream,
	}
}

func (p *marketDataProvider) Manifest() capability.Manifest { return p.manifest }

func (p *marketDataProvider) Init(_ context.Context, config map[string]any) error {
	p.defaultSymbol = stringArg(config, "default_symbol", "^GSPC")
	return nil
}

func (p *marketDataProvider) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "get_quote":
		quote, err := p.upstream.Quote(ctx, stringArg(args, "symbol", p.defaultSymbol))
		if err != nil {
			return nil, err
		}
		// Map form keeps tool payloads uniform; the timestamp is dropped
		// so identical market data yields identical payloads across runs.
		return map[string]any{
			"symbol":         quote.Symbol,
			"price":          quote.Price,
			"change":         quote.Change,
			"change_percent": quote.ChangePercent,
		}, nil
	case "get_history":
		points, err := p.upstream.History(ctx,
			stringArg(args, "symbol", p.defaultSymbol),
			stringArg(args, "period", "6mo"))
		if err != nil {
			return nil, err
		}
		series := make([]map[string]any, 0, len(points))
		for _, pt := range points {
			series = append(series, map[string]any{
				"date":  pt.Date.Format("2006-01-02"),
				"price": pt.Price,
			})
		}
		return series, nil
	default:
		return nil, finerr.New(finerr.CodePluginToolNotFound, "unknown tool", finerr.FieldTool(tool))
	}
}

func (p *marketDataProvider) Close(context.Context) error { return nil }
