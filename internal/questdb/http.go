package questdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/kanekoshoyu/anysignal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// execResponse is the subset of QuestDB's /exec JSON we read.
type execResponse struct {
	Dataset [][]jsoniter.RawMessage `json:"dataset"`
	Error   string                  `json:"error"`
}

// HTTPQuerier runs queries through QuestDB's REST /exec endpoint.
type HTTPQuerier struct {
	baseURL  string
	user     string
	password string
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPQuerier(cfg config.QuestDBConfig, client *http.Client) *HTTPQuerier {
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPQuerier{
		baseURL:  "http://" + cfg.Addr,
		user:     cfg.User,
		password: cfg.Password,
		client:   client,
		timeout:  timeout,
	}
}

func (q *HTTPQuerier) Count(ctx context.Context, query string) (int64, error) {
	body, err := q.exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return parseCount(body)
}

// Exec runs a statement such as DDL and reports the error QuestDB returns.
func (q *HTTPQuerier) Exec(ctx context.Context, stmt string) error {
	body, err := q.exec(ctx, stmt)
	if err != nil {
		return err
	}
	var out execResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode /exec response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("questdb: %s", out.Error)
	}
	return nil
}

func (q *HTTPQuerier) exec(ctx context.Context, query string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, q.timeout)
	defer cancel()

	endpoint := q.baseURL + "/exec?query=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if q.user != "" {
		req.SetBasicAuth(q.user, q.password)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func parseCount(body []byte) (int64, error) {
	var out execResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode /exec response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("questdb: %s", out.Error)
	}
	if len(out.Dataset) == 0 || len(out.Dataset[0]) == 0 {
		return 0, fmt.Errorf("questdb: empty dataset")
	}
	var n int64
	if err := json.Unmarshal(out.Dataset[0][0], &n); err != nil {
		return 0, fmt.Errorf("questdb: count is not an integer: %w", err)
	}
	return n, nil
}

func (q *HTTPQuerier) Close() {
	q.client.CloseIdleConnections()
}
