// Package query is the query engine (component C8): it scans the
// selected files for a half-open time range and materializes matching
// live records as row tuples.
package query

import (
	"os"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

// nullField is substituted for an absent string field in query output.
const nullField = "null"

// Row is one output row of 13 columns: time, type description, result
// description, then the 10 string fields (spec §4.8).
type Row struct {
	Time       int64
	TypeDesc   string
	ResultDesc string
	Fields     [10]string
}

// Run scans dir (the live audit directory, or a foreign snapshot when
// overridden by the caller per spec §4.8) for all live records whose time
// falls in the half-open range [begin, end).
func Run(dir string, idx *index.Table, begin, end int64) ([]Row, error) {
	var rows []Row

	idx.Walk(func(i uint32, item index.Item) bool {
		isCurrent := i == idx.CurIdx
		next := idx.Successor(i)
		if !index.CanIntersect(item, isCurrent, next, begin, end) {
			return true
		}
		fileRows, err := scanFile(dir, item.FileNum, begin, end)
		if err != nil {
			log.Error("query: scanning file %d: %v", item.FileNum, err)
		}
		rows = append(rows, fileRows...)
		return true
	})

	return rows, nil
}

// scanFile reads every record header-by-header from file fileNum,
// emitting rows for live records in [begin, end). A corrupted header
// terminates the scan for this file but keeps rows already collected
// (spec §4.8/§7).
func scanFile(dir string, fileNum uint32, begin, end int64) ([]Row, error) {
	path := auditfile.Path(dir, fileNum)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rows []Row
	off := 0
	for off < len(data) {
		rec, n, err := record.Decode(data[off:])
		if err != nil {
			log.Error("query: corrupt record header in %s at offset %d: %v", path, off, err)
			break
		}
		if rec.Flags == record.FlagLive && rec.Time >= begin && rec.Time < end {
			rows = append(rows, toRow(rec))
		}
		off += n
	}
	return rows, nil
}

func toRow(rec *record.Record) Row {
	r := Row{
		Time:       rec.Time,
		TypeDesc:   rec.Type.Desc(),
		ResultDesc: rec.Result.Desc(),
	}
	for i := 0; i < 10; i++ {
		if rec.Fields[i] == "" {
			r.Fields[i] = nullField
		} else {
			r.Fields[i] = rec.Fields[i]
		}
	}
	return r
}
