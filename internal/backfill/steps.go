package backfill

import (
	"strings"
	"time"

	"github.com/kanekoshoyu/anysignal/models"
)

// Step is one period of a request. Daily steps hold a single key, hourly
// steps one key per requested ticker.
type Step struct {
	Label string
	Keys  []models.PeriodKey
}

// ClientError is a request the caller has to fix.
type ClientError struct {
	Msg string
}

func (e *ClientError) Error() string { return e.Msg }

// Validate normalizes the tickers of req and rejects inconsistent requests.
func Validate(req *models.BackfillRequest) error {
	if req.From.IsZero() || req.To.IsZero() {
		return &ClientError{Msg: "'from' and 'to' are required."}
	}
	if req.From.After(req.To) {
		return &ClientError{Msg: "'from' must be on or before 'to'."}
	}

	tickers := make([]string, 0, len(req.Tickers))
	seen := make(map[string]struct{}, len(req.Tickers))
	for _, t := range req.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tickers = append(tickers, t)
	}
	req.Tickers = tickers

	if req.Source.Granularity() == models.Hourly && len(req.Tickers) == 0 {
		return &ClientError{Msg: "'coins' is required for " + string(req.Source) + " (e.g. coins=BTC,ETH)."}
	}
	return nil
}

// Steps expands req into its periods in chronological order. Daily sources
// cover every date from From to To inclusive; hourly sources every hour from
// the top of From's hour through To.
func Steps(req models.BackfillRequest) []Step {
	var steps []Step
	if req.Source.Granularity() == models.Hourly {
		end := req.To.UTC()
		for h := req.From.UTC().Truncate(time.Hour); !h.After(end); h = h.Add(time.Hour) {
			keys := make([]models.PeriodKey, 0, len(req.Tickers))
			for _, t := range req.Tickers {
				keys = append(keys, models.HourKey(h, t))
			}
			steps = append(steps, Step{Label: h.Format(models.HourLayout), Keys: keys})
		}
		return steps
	}

	last := models.DayKey(req.To).Start
	for d := models.DayKey(req.From).Start; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := models.DayKey(d)
		steps = append(steps, Step{Label: key.Label(), Keys: []models.PeriodKey{key}})
	}
	return steps
}
