package processor

import (
	"bufio"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// l2BookLine mirrors one line of an hourly l2Book archive:
// {"time":"...","ver_num":1,"raw":{"channel":"l2Book","data":{"coin":"BTC","time":1681516807400,"levels":[[bids],[asks]]}}}
type l2BookLine struct {
	Time   string `json:"time"`
	VerNum int    `json:"ver_num"`
	Raw    struct {
		Channel string `json:"channel"`
		Data    struct {
			Coin   string          `json:"coin"`
			Time   int64           `json:"time"`
			Levels [][]l2BookLevel `json:"levels"`
		} `json:"data"`
	} `json:"raw"`
}

type l2BookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int64  `json:"n"`
}

const maxL2LineBytes = 16 << 20

// ParseL2Book decodes newline-delimited l2Book snapshots. Blank lines are
// skipped and any malformed line fails the whole body.
func ParseL2Book(text string) ([]models.L2Snapshot, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64<<10), maxL2LineBytes)

	var (
		out       []models.L2Snapshot
		anomalies int
		lineNo    int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var rec l2BookLine
		if err := json.UnmarshalFromString(line, &rec); err != nil {
			return nil, apperr.Parserf(err, "l2Book line %d is not valid JSON", lineNo)
		}
		if len(rec.Raw.Data.Levels) != 2 {
			return nil, apperr.Parserf(nil, "l2Book line %d has %d level sides, want 2", lineNo, len(rec.Raw.Data.Levels))
		}

		snap := models.L2Snapshot{
			Time:   rec.Time,
			Coin:   rec.Raw.Data.Coin,
			TimeMs: rec.Raw.Data.Time,
		}
		snap.Bids, anomalies = convertLevels(rec.Raw.Data.Levels[0], anomalies)
		snap.Asks, anomalies = convertLevels(rec.Raw.Data.Levels[1], anomalies)
		out = append(out, snap)
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Parserf(err, "failed to scan l2Book body")
	}

	if anomalies > 0 {
		logger.GetLogger().WithComponent("l2book_parser").WithFields(logger.Fields{
			"unparsable_values": anomalies,
			"snapshots":         len(out),
		}).Warn("l2Book levels carried unparsable px/sz text; defaulted to 0")
	}
	if out == nil {
		out = []models.L2Snapshot{}
	}
	return out, nil
}

func convertLevels(levels []l2BookLevel, anomalies int) ([]models.L2Level, int) {
	out := make([]models.L2Level, len(levels))
	for i, lv := range levels {
		px, ok := parseDecimal(lv.Px)
		if !ok {
			anomalies++
		}
		sz, ok := parseDecimal(lv.Sz)
		if !ok {
			anomalies++
		}
		out[i] = models.L2Level{Px: px, Sz: sz, N: lv.N}
	}
	return out, anomalies
}

// parseDecimal reads exchange decimal text. Unparsable text yields 0 and
// false so the caller can report it.
func parseDecimal(s string) (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
