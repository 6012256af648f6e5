package writer

import (
	"context"
	"fmt"
	"strings"

	qdb "github.com/questdb/go-questdb-client/v3"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

// QuestDBSink writes chunks over ILP/HTTP. Auto-flush is off: one HTTP
// request per chunk.
type QuestDBSink struct {
	sender qdb.LineSender
	addr   string
	log    *logger.Log
}

// SenderConf renders the client configuration string for cfg.
func SenderConf(cfg config.QuestDBConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "http::addr=%s;", cfg.Addr)
	if cfg.User != "" {
		fmt.Fprintf(&b, "username=%s;password=%s;", confEscape(cfg.User), confEscape(cfg.Password))
	}
	b.WriteString("auto_flush=off;")
	if cfg.MaxBufferBytes > 0 {
		fmt.Fprintf(&b, "max_buf_size=%d;", cfg.MaxBufferBytes)
	}
	if cfg.RequestTimeout > 0 {
		fmt.Fprintf(&b, "request_timeout=%d;", cfg.RequestTimeout.Milliseconds())
	}
	return b.String()
}

// ';' is the field separator and is escaped by doubling.
func confEscape(s string) string {
	return strings.ReplaceAll(s, ";", ";;")
}

func NewQuestDBSink(ctx context.Context, cfg config.QuestDBConfig) (*QuestDBSink, error) {
	sender, err := qdb.LineSenderFromConf(ctx, SenderConf(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create questdb sender for %s: %w", cfg.Addr, err)
	}
	log := logger.GetLogger()
	log.WithComponent("questdb_sink").WithFields(logger.Fields{
		"addr":         cfg.Addr,
		"max_buf_size": cfg.MaxBufferBytes,
	}).Info("questdb sink initialized")
	return &QuestDBSink{sender: sender, addr: cfg.Addr, log: log}, nil
}

func (s *QuestDBSink) Flush(ctx context.Context, records []models.Record) error {
	for _, r := range records {
		if err := appendRecord(ctx, s.sender, r); err != nil {
			return fmt.Errorf("encode %s row: %w", r.Table, err)
		}
	}
	if err := s.sender.Flush(ctx); err != nil {
		return fmt.Errorf("flush to %s: %w", s.addr, err)
	}
	return nil
}

func appendRecord(ctx context.Context, sender qdb.LineSender, r models.Record) error {
	line := sender.Table(r.Table)
	for _, t := range r.Symbols {
		line = line.Symbol(t.Name, t.Value)
	}
	for _, c := range r.Columns {
		switch c.Kind {
		case models.IntColumn:
			line = line.Int64Column(c.Name, c.Int)
		default:
			line = line.Float64Column(c.Name, c.Float)
		}
	}
	return line.At(ctx, r.Timestamp)
}

func (s *QuestDBSink) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}
