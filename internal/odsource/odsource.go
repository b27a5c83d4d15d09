// Package odsource loads a day's OD batch from the CSV pointer an
// OD-ready trigger message names. Full CSV ingestion (discovery,
// scheduling, upload) remains the external fetcher's job; this package
// only reads the file the fetcher already produced, using encoding/csv
// since no third-party CSV library appears anywhere in the example
// corpus (see DESIGN.md).
package odsource

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/citygrid/h3delay/internal/model"
)

// expected header: date,origin_cell,dest_cell,n_trucks,n_cars,conf
var header = []string{"date", "origin_cell", "dest_cell", "n_trucks", "n_cars", "conf"}

// Load reads path as a CSV OD batch. A row whose date column fails to
// parse falls back to today (UTC), matching the original Rust
// prototype's AppCfg behavior (spec §4.11).
func Load(path string) ([]model.ODRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("odsource: open %q: %w", path, err)
	}
	defer f.Close()
	return loadFrom(f)
}

func loadFrom(r io.Reader) ([]model.ODRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("odsource: read header: %w", err)
	}
	if !looksLikeHeader(first) {
		rec, err := parseRow(first)
		if err != nil {
			return nil, fmt.Errorf("odsource: row 1: %w", err)
		}
		return readRemaining(cr, []model.ODRecord{rec}, 1)
	}
	return readRemaining(cr, nil, 1)
}

func looksLikeHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(row[0]), header[0])
}

func readRemaining(cr *csv.Reader, out []model.ODRecord, line int) ([]model.ODRecord, error) {
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("odsource: read row %d: %w", line+1, err)
		}
		line++
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("odsource: row %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRow(row []string) (model.ODRecord, error) {
	if len(row) != len(header) {
		return model.ODRecord{}, fmt.Errorf("expected %d columns, got %d", len(header), len(row))
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(row[0]))
	if err != nil {
		date = time.Now().UTC().Truncate(24 * time.Hour)
	}

	trucks, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 32)
	if err != nil {
		return model.ODRecord{}, fmt.Errorf("n_trucks: %w", err)
	}
	cars, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 32)
	if err != nil {
		return model.ODRecord{}, fmt.Errorf("n_cars: %w", err)
	}

	rec := model.ODRecord{
		Date:       date,
		OriginCell: strings.TrimSpace(row[1]),
		DestCell:   strings.TrimSpace(row[2]),
		NTrucks:    float32(trucks),
		NCars:      float32(cars),
	}

	if s := strings.TrimSpace(row[5]); s != "" {
		c, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return model.ODRecord{}, fmt.Errorf("conf: %w", err)
		}
		c32 := float32(c)
		rec.Conf = &c32
	}

	return rec, nil
}
