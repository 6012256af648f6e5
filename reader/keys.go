package reader

import (
	"fmt"
	"strings"
	"time"
)

// AssetCtxsKey is the archive key of the daily asset context dump.
func AssetCtxsKey(day time.Time) string {
	return fmt.Sprintf("asset_ctxs/%s.csv.lz4", day.UTC().Format("20060102"))
}

// L2BookKey is the archive key of one ticker's hourly l2Book dump. The hour
// segment is not zero padded.
func L2BookKey(hour time.Time, ticker string) string {
	hour = hour.UTC()
	return fmt.Sprintf("market_data/%s/%d/l2Book/%s.lz4", hour.Format("20060102"), hour.Hour(), strings.ToUpper(ticker))
}
