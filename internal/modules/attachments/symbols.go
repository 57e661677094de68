package attachments

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/attachments/internal/domain"
)

// ExtractSymbolRoot returns the longest leading run of A-Z in symbol.
// "AAPL240119C00150000" has root "AAPL"; "123XYZ" and "aapl" have none.
func ExtractSymbolRoot(symbol string) (string, bool) {
	end := 0
	for end < len(symbol) && symbol[end] >= 'A' && symbol[end] <= 'Z' {
		end++
	}
	if end == 0 {
		return "", false
	}
	return symbol[:end], true
}

// ParseDisplayDate converts a DD/MM/YYYY date into unix milliseconds (UTC).
// Empty or malformed values yield 0 so they sort after every real date.
func ParseDisplayDate(s string) int64 {
	if s == "" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		nums[i] = n
	}

	day, month, year := nums[0], nums[1], nums[2]
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// SortTradesByDate orders trades newest first by tradeDate. Equal dates keep their order.
func SortTradesByDate(trades []domain.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return ParseDisplayDate(trades[i].TradeDate) > ParseDisplayDate(trades[j].TradeDate)
	})
}

// SortOrdersByDate orders orders newest first by settleDateTarget. Equal dates keep their order.
func SortOrdersByDate(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return ParseDisplayDate(orders[i].SettleDateTarget) > ParseDisplayDate(orders[j].SettleDateTarget)
	})
}
