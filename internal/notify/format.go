package notify

import (
	"fmt"
	"strings"
	"time"

	"perpetual-engine/internal/types"
)

type field struct {
	name  string
	value string
}

// fields lists the payload details worth showing in a chat message.
func fields(ev types.Event) []field {
	var out []field
	switch {
	case ev.Fill != nil:
		out = append(out,
			field{"Symbol", ev.Symbol},
			field{"Price", "$" + ev.Fill.Price.StringFixed(2)},
			field{"Amount", "$" + ev.Fill.Amount.StringFixed(2)},
			field{"Quantity", ev.Fill.Quantity.StringFixed(6)},
			field{"Fee", "$" + ev.Fill.Fee.StringFixed(4)},
		)
	case ev.Closure != nil:
		out = append(out,
			field{"Symbol", ev.Closure.Symbol},
			field{"Exit", "$" + ev.Closure.Price.StringFixed(2)},
			field{"P&L", "$" + ev.Closure.PnL.StringFixed(2)},
			field{"Held", ev.Closure.HeldFor.Round(time.Second).String()},
			field{"Stage", fmt.Sprintf("%d", ev.Closure.Stage)},
		)
	case ev.Day != nil:
		out = append(out,
			field{"Date", ev.Day.Date},
			field{"Trades", fmt.Sprintf("%d", ev.Day.Trades)},
			field{"Win Rate", fmt.Sprintf("%.1f%%", ev.Day.WinRate)},
			field{"Net P&L", "$" + ev.Day.NetProfit.StringFixed(2)},
		)
	case ev.Err != "":
		out = append(out, field{"Error", ev.Err})
	}
	if ev.Vault != nil {
		out = append(out, field{"Vault", "$" + ev.Vault.Total.StringFixed(2)})
	}
	return out
}

func icon(level types.Level) string {
	switch level {
	case types.LevelSuccess:
		return "✅"
	case types.LevelError:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// plainText renders ev as a short multi-line message.
func plainText(ev types.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n%s", icon(ev.Level), ev.Title, ev.Message)
	for _, f := range fields(ev) {
		fmt.Fprintf(&b, "\n%s: %s", f.name, f.value)
	}
	return b.String()
}
