package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadInputCSV reads a prepared daily dataset. Unknown columns are ignored;
// a UTF-8 BOM on the first header cell is stripped.
func ReadInputCSV(path string) ([]Row, error) {
	records, err := ReadTable(path)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			Code:            strings.TrimSpace(rec["code"]),
			Name:            strings.TrimSpace(rec["name"]),
			Market:          strings.ToUpper(strings.TrimSpace(rec["market"])),
			Close:           ParseFloat(rec["close"]),
			Volume:          ParseFloatOrZero(rec["volume"]),
			TradeValue:      ParseFloat(rec["trade_value"]),
			Turnover:        ParseFloatOrZero(rec["turnover"]),
			ShortUsedRatio:  ParseFloatOrZero(rec["short_used_ratio"]),
			MarginUsedRatio: ParseFloatOrZero(rec["margin_used_ratio"]),
		})
	}
	return rows, nil
}

// WriteInputCSV writes a prepared daily dataset atomically (tmp + rename),
// UTF-8 without BOM, in the canonical column order.
func WriteInputCSV(path string, rows []Row) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, Columns)
	for _, r := range rows {
		records = append(records, []string{
			r.Code,
			r.Name,
			r.Market,
			formatFloat(r.Close),
			formatFloat(r.Volume),
			formatFloat(r.TradeValue),
			formatFloat(r.Turnover),
			formatFloat(r.ShortUsedRatio),
			formatFloat(r.MarginUsedRatio),
		})
	}
	return WriteTable(path, records)
}

// ReadTable reads any CSV file into header-keyed records, DictReader style.
func ReadTable(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	header := all[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	records := make([]map[string]string, 0, len(all)-1)
	for _, row := range all[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteTable writes raw CSV records atomically: the file is complete or absent,
// never half-written.
func WriteTable(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

func formatFloat(v float64) string {
	if v != v { // NaN
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
