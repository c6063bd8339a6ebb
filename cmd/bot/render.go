package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-exit-engine/internal/ledger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

var (
	cyan  = lipgloss.Color("#00E5FF")
	green = lipgloss.Color("#2AFFAA")
	red   = lipgloss.Color("#FF5555")
	muted = lipgloss.Color("#6C7280")

	headerStyle = lipgloss.NewStyle().Foreground(cyan).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(muted).Width(16)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(muted)).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// tokens количество в целых токенах.
func tokens(raw uint64, decimals uint8) string {
	return decimal.New(int64(raw), -int32(decimals)).String()
}

func pnl(pct float64) string {
	s := fmt.Sprintf("%+.2f%%", pct)
	switch {
	case pct > 0:
		return lipgloss.NewStyle().Foreground(green).Render(s)
	case pct < 0:
		return lipgloss.NewStyle().Foreground(red).Render(s)
	}
	return s
}

func shortMint(mint string) string {
	if len(mint) <= 12 {
		return mint
	}
	return mint[:6] + ".." + mint[len(mint)-4:]
}

func renderPositions(list []*position.Position) string {
	if len(list) == 0 {
		return "no positions"
	}
	t := newTable("MINT", "SYMBOL", "STATE", "REMAINING", "ENTRY", "LAST", "PNL", "STOP", "TP", "FLAGS")
	for _, p := range list {
		t.Row(
			shortMint(p.Mint),
			p.Symbol,
			string(p.State),
			tokens(p.Remaining(), p.Decimals),
			fmt.Sprintf("%.10g", p.EntryPrice),
			fmt.Sprintf("%.10g", p.LastPrice),
			pnl(p.PnLPercent(p.LastPrice)),
			fmt.Sprintf("%.10g", p.StopLossPrice),
			fmt.Sprintf("%.10g", p.TakeProfitPrice),
			flags(p),
		)
	}
	return t.Render()
}

func flags(p *position.Position) string {
	var f []string
	if p.MoonBag {
		f = append(f, "moonbag")
	}
	if p.Trailing.Armed {
		f = append(f, "trailing")
	}
	if p.DCA.Pending {
		f = append(f, "dca-pending")
	} else if p.DCA.Executed {
		f = append(f, "dca")
	}
	if p.SellFailures > 0 {
		f = append(f, fmt.Sprintf("sell-fail×%d", p.SellFailures))
	}
	return strings.Join(f, ",")
}

func renderPosition(p *position.Position) string {
	var b strings.Builder
	line := func(label string, value any) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(fmt.Sprint(value))
		b.WriteByte('\n')
	}

	line("mint", p.Mint)
	if p.Symbol != "" {
		line("symbol", p.Symbol)
	}
	line("state", p.State)
	line("wallet", p.Wallet)
	line("quantity", fmt.Sprintf("%s of %s", tokens(p.Remaining(), p.Decimals), tokens(p.QuantityTotal, p.Decimals)))
	line("entry", fmt.Sprintf("%.10g SOL (%s SOL spent)", p.EntryPrice, p.EntrySOL().StringFixed(4)))
	line("last", fmt.Sprintf("%.10g SOL  %s", p.LastPrice, pnl(p.PnLPercent(p.LastPrice))))
	line("stop loss", fmt.Sprintf("%.10g", p.StopLossPrice))
	line("take profit", fmt.Sprintf("%.10g", p.TakeProfitPrice))
	if p.Trailing.Enabled {
		line("trailing", fmt.Sprintf("armed=%v hwm=%.10g trigger=%.10g", p.Trailing.Armed, p.Trailing.HighWaterMark, p.Trailing.TriggerPrice))
	}
	if p.DCA.Enabled {
		line("dca", fmt.Sprintf("pending=%v executed=%v", p.DCA.Pending, p.DCA.Executed))
	}
	line("realized", p.RealizedSOL().StringFixed(4)+" SOL")
	if p.RouteHint != "" {
		line("route", p.RouteHint)
	}
	if p.LastError != "" {
		line("last error", p.LastError)
	}
	if p.CloseReason != "" {
		line("close reason", p.CloseReason)
	}
	line("updated", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	return strings.TrimRight(b.String(), "\n")
}

func renderLedger(records []ledger.Record) string {
	if len(records) == 0 {
		return "ledger is empty"
	}
	t := newTable("MINT", "SYMBOL", "ROUTE", "PRICE", "SOL", "PURCHASED")
	for _, r := range records {
		t.Row(
			shortMint(r.Mint),
			r.Symbol,
			r.Route,
			fmt.Sprintf("%.10g", r.Price),
			decimal.New(int64(r.Lamports), -9).StringFixed(4),
			r.PurchasedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return t.Render()
}
