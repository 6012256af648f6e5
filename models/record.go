package models

import (
	"strconv"
	"time"
)

// Tag is a symbol column of a wire record.
type Tag struct {
	Name  string
	Value string
}

// ColumnKind tells a sink how to encode a Column.
type ColumnKind int

const (
	FloatColumn ColumnKind = iota
	IntColumn
)

// Column is a value column of a wire record.
type Column struct {
	Name  string
	Kind  ColumnKind
	Float float64
	Int   int64
}

// Record is one line written to the time-series store.
type Record struct {
	Table     string
	Symbols   []Tag
	Columns   []Column
	Timestamp time.Time
}

// NewRecord truncates ts to microseconds so every written timestamp survives
// a round trip through a microsecond store.
func NewRecord(table string, ts time.Time) Record {
	return Record{Table: table, Timestamp: ts.UTC().Truncate(time.Microsecond)}
}

func (r Record) WithSymbol(name, value string) Record {
	r.Symbols = append(r.Symbols, Tag{Name: name, Value: value})
	return r
}

func (r Record) WithFloat(name string, v float64) Record {
	r.Columns = append(r.Columns, Column{Name: name, Kind: FloatColumn, Float: v})
	return r
}

func (r Record) WithInt(name string, v int64) Record {
	r.Columns = append(r.Columns, Column{Name: name, Kind: IntColumn, Int: v})
	return r
}

// Size is the length of the record rendered as an ILP line:
// table,sym=v,... col=v,... <ts>\n
func (r Record) Size() int {
	n := len(r.Table)
	for _, s := range r.Symbols {
		n += 2 + len(s.Name) + len(s.Value)
	}
	for _, c := range r.Columns {
		n += 2 + len(c.Name)
		switch c.Kind {
		case IntColumn:
			n += len(strconv.FormatInt(c.Int, 10)) + 1
		default:
			n += len(strconv.FormatFloat(c.Float, 'g', -1, 64))
		}
	}
	n += 2 + len(strconv.FormatInt(r.Timestamp.UnixNano(), 10))
	return n
}
