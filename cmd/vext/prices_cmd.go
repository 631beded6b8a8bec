package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/market"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
)

// priceTable collects prices for a one-shot fetch.
type priceTable struct {
	mu     sync.Mutex
	prices map[contracts.Asset]string
}

func (p *priceTable) SetPrice(a contracts.Asset, amount string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices[a] == amount {
		return false
	}
	p.prices[a] = amount
	return true
}

type priceRow struct {
	Asset contracts.Asset `json:"asset"`
	Price string          `json:"price"`
	Quote string          `json:"quote"`
}

// runPricesCmd implements `vext prices`. Fetch failures leave the placeholder.
func runPricesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("prices", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config (env VEXT_* overrides)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	mc := rt.marketConfig()
	table := &priceTable{prices: make(map[contracts.Asset]string)}
	for _, a := range mc.Symbols {
		table.prices[a] = session.PricePlaceholder
	}
	market.NewFeed(mc, table, nil).WithLogger(rt.logger.With("component", "market")).Refresh(ctx)

	rows := make([]priceRow, 0, len(table.prices))
	for a, p := range table.prices {
		rows = append(rows, priceRow{Asset: a, Price: p, Quote: market.Quote(rt.cfg.Checkout.USDAmount, p)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Asset < rows[j].Asset })

	if jsonOutput {
		data, _ := json.MarshalIndent(rows, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%s%s: $%s%s\n", ColorBold, rt.cfg.Checkout.Merchant, rt.cfg.Checkout.USDAmount, ColorReset)
	for _, r := range rows {
		_, _ = fmt.Fprintf(stdout, "  %-4s %14s USD   %s %s\n", r.Asset, r.Price, r.Quote, r.Asset)
	}
	return 0
}
