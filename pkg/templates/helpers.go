package templates

import (
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

// FuncMap returns the helpers available to every notification template
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"ether":    FormatEther,
		"ago":      humanize.Time,
		"short":    ShortAddress,
		"join":     strings.Join,
		"upper":    strings.ToUpper,
		"score":    FormatScore,
		"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
	}
}

// FormatEther renders a wei amount as native units with thousands separators,
// e.g. 150000000000000000000 -> "150"
func FormatEther(wei decimal.Decimal) string {
	whole := wei.Div(weiPerEther)
	f, _ := whole.Round(4).Float64()
	return humanize.CommafWithDigits(f, 4)
}

// ShortAddress abbreviates a 0x address to 0x1234…abcd
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// FormatScore renders a risk score with one decimal place
func FormatScore(score float64) string {
	return humanize.FtoaWithDigits(score, 1)
}

// SafeText strips invalid UTF-8 from text passed through from chain data
func SafeText(text string) string {
	return strings.ToValidUTF8(text, "")
}
