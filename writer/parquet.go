package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/questdb"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

// MarketDataRow is the parquet layout of a market_data record.
type MarketDataRow struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Category  string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ticker    string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source    string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
}

// L2SnapshotRow is the parquet layout of an l2_snapshot record.
type L2SnapshotRow struct {
	Timestamp int64   `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Ticker    string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level     int64   `parquet:"name=level, type=INT64"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
}

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ParquetSink writes every chunk as one parquet file per table, either under
// a local directory or to an S3 bucket when one is configured.
type ParquetSink struct {
	cfg      config.ParquetConfig
	s3Client ObjectPutter
	version  string
	log      *logger.Log
}

func NewParquetSink(cfg config.ParquetConfig, s3Client ObjectPutter, version string) *ParquetSink {
	log := logger.GetLogger()
	log.WithComponent("parquet_sink").WithFields(logger.Fields{
		"dir":         cfg.Dir,
		"s3_bucket":   cfg.S3Bucket,
		"compression": cfg.Compression,
	}).Info("parquet sink initialized")
	return &ParquetSink{cfg: cfg, s3Client: s3Client, version: version, log: log}
}

// memoryFileWriter implements source.ParquetFile for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return mfw, nil }

// Seek is only used by the writer to learn the current offset.
func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

func (s *ParquetSink) Flush(ctx context.Context, records []models.Record) error {
	byTable := make(map[string][]models.Record)
	var order []string
	for _, r := range records {
		if _, ok := byTable[r.Table]; !ok {
			order = append(order, r.Table)
		}
		byTable[r.Table] = append(byTable[r.Table], r)
	}
	for _, table := range order {
		if err := s.writeTable(ctx, table, byTable[table]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ParquetSink) writeTable(ctx context.Context, table string, records []models.Record) error {
	schema, rows, err := toParquetRows(table, records)
	if err != nil {
		return err
	}
	key := objectKey(table, records[0].Timestamp)
	log := s.log.WithComponent("parquet_sink").WithFields(logger.Fields{
		"table":   table,
		"records": len(records),
		"key":     key,
	})

	if s.cfg.S3Bucket != "" {
		fw := newMemoryFileWriter()
		if err := s.encode(fw, schema, rows); err != nil {
			return err
		}
		if err := s.upload(ctx, path.Join(s.cfg.S3Prefix, key), fw.Bytes()); err != nil {
			return err
		}
		log.WithFields(logger.Fields{"file_size": len(fw.Bytes())}).Info("parquet chunk uploaded")
		return nil
	}

	filePath := filepath.Join(s.cfg.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}
	fw, err := local.NewLocalFileWriter(filePath)
	if err != nil {
		return fmt.Errorf("failed to create parquet file %s: %w", filePath, err)
	}
	if err := s.encode(fw, schema, rows); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file %s: %w", filePath, err)
	}
	log.WithFields(logger.Fields{"path": filePath}).Info("parquet chunk written")
	return nil
}

func (s *ParquetSink) encode(fw source.ParquetFile, schema interface{}, rows []interface{}) error {
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch s.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

func (s *ParquetSink) upload(ctx context.Context, key string, data []byte) error {
	if s.s3Client == nil {
		return fmt.Errorf("no S3 client configured for bucket %s", s.cfg.S3Bucket)
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       s.cfg.Compression,
			"anysignal-version": s.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.cfg.S3Bucket, err)
	}
	return nil
}

func (s *ParquetSink) Close(context.Context) error { return nil }

// objectKey partitions by table and UTC date of the chunk's first record.
func objectKey(table string, ts time.Time) string {
	ts = ts.UTC()
	return path.Join(
		table,
		"date="+ts.Format(models.DateLayout),
		fmt.Sprintf("%s_%s_%s.parquet", table, ts.Format("20060102T150405"), uuid.NewString()),
	)
}

func toParquetRows(table string, records []models.Record) (interface{}, []interface{}, error) {
	rows := make([]interface{}, 0, len(records))
	switch table {
	case questdb.AssetCtxsTable:
		for _, r := range records {
			row := MarketDataRow{Timestamp: r.Timestamp.UnixMicro()}
			for _, t := range r.Symbols {
				switch t.Name {
				case "category":
					row.Category = t.Value
				case "ticker":
					row.Ticker = t.Value
				case "source":
					row.Source = t.Value
				}
			}
			for _, c := range r.Columns {
				if c.Name == "value" {
					row.Value = c.Float
				}
			}
			rows = append(rows, row)
		}
		return new(MarketDataRow), rows, nil
	case questdb.L2Table:
		for _, r := range records {
			row := L2SnapshotRow{Timestamp: r.Timestamp.UnixMicro()}
			for _, t := range r.Symbols {
				switch t.Name {
				case "ticker":
					row.Ticker = t.Value
				case "side":
					row.Side = t.Value
				}
			}
			for _, c := range r.Columns {
				switch c.Name {
				case "level":
					row.Level = c.Int
				case "price":
					row.Price = c.Float
				case "quantity":
					row.Quantity = c.Float
				}
			}
			rows = append(rows, row)
		}
		return new(L2SnapshotRow), rows, nil
	default:
		return nil, nil, fmt.Errorf("no parquet layout for table %s", table)
	}
}
