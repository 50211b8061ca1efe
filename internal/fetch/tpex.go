package fetch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/twlin/formosa/pkg/httputil"
	"github.com/twlin/formosa/pkg/logger"
)

// TPEXPayload is the normalized inbound envelope for the TPEX daily-close
// open-data CSV. The row-major aaData layout mirrors the exchange payloads so
// the prepare step can index both markets by field name.
type TPEXPayload struct {
	ReportDate string     `json:"reportDate"`
	Fields     []string   `json:"fields"`
	AAData     [][]string `json:"aaData"`
	FetchURL   string     `json:"_fetch_url"`
	Format     string     `json:"_format"`
}

// TPEX fetches the daily-close quotes CSV. The endpoint takes no date and
// always serves the latest trading day; the report date is embedded in the
// body as a ROC calendar date.
type TPEX struct {
	client   *httputil.Client
	quoteURL string
	now      func() time.Time
	log      *logger.Logger
}

func NewTPEX(client *httputil.Client, quoteURL string, log *logger.Logger) *TPEX {
	return &TPEX{client: client, quoteURL: quoteURL, now: time.Now, log: log}
}

// WithClock overrides the clock, used by tests.
func (t *TPEX) WithClock(now func() time.Time) *TPEX {
	t.now = now
	return t
}

// FetchLatest downloads and parses the latest daily-close CSV. It returns
// the AD date token (YYYYMMDD) and the normalized payload.
func (t *TPEX) FetchLatest(ctx context.Context) (string, *TPEXPayload, error) {
	body, err := t.client.GetBody(ctx, t.quoteURL)
	if err != nil {
		return "", nil, err
	}

	payload, err := parseQuoteCSV(string(body))
	if err != nil {
		return "", nil, err
	}
	payload.FetchURL = t.quoteURL

	date := rocToAD(payload.ReportDate)
	if date == "" {
		date = t.now().Format("20060102")
	}
	return date, payload, nil
}

var reportDateRe = regexp.MustCompile(`(資料日期|reportDate)\s*[:：]\s*([0-9]{3}/[0-9]{2}/[0-9]{2})`)

// parseQuoteCSV locates the header row (代號/名稱/收盤) and collects the data
// rows below it, skipping footnotes and blank lines.
func parseQuoteCSV(text string) (*TPEXPayload, error) {
	reportROC := ""
	if m := reportDateRe.FindStringSubmatch(text); m != nil {
		reportROC = m[2]
	}

	var lines []string
	for _, ln := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}

	headerIdx := -1
	var header []string
	limit := len(lines)
	if limit > 50 {
		limit = 50
	}
	for i := 0; i < limit; i++ {
		row := splitCSVLine(lines[i])
		if contains(row, "代號") && contains(row, "名稱") && contains(row, "收盤") {
			headerIdx = i
			header = row
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("tpex csv parse failed: cannot locate header row")
	}

	var data [][]string
	for _, ln := range lines[headerIdx+1:] {
		row := splitCSVLine(ln)
		if len(row) < 5 || row[0] == "" {
			continue
		}
		data = append(data, row)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tpex csv parse failed: no data rows")
	}

	return &TPEXPayload{
		ReportDate: reportROC,
		Fields:     header,
		AAData:     data,
		Format:     "csv_open_data",
	}, nil
}

func splitCSVLine(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	row, err := r.Read()
	if err != nil {
		return nil
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	return row
}

func contains(row []string, s string) bool {
	for _, c := range row {
		if c == s {
			return true
		}
	}
	return false
}

// rocToAD converts a ROC calendar date (115/02/11) to YYYYMMDD (20260211).
// Unparseable input yields the empty string.
func rocToAD(roc string) string {
	parts := strings.Split(roc, "/")
	if len(parts) != 3 {
		return ""
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	return fmt.Sprintf("%04d%02d%02d", y+1911, m, d)
}

// TPEXInboundFile is the inbound artifact name for a date token.
func TPEXInboundFile(date string) string {
	return fmt.Sprintf("tpex_stk_quote_%s.json", date)
}

// FetchToDir fetches the latest quotes and writes the inbound envelope
// into dir.
func (t *TPEX) FetchToDir(ctx context.Context, dir string) (string, error) {
	date, payload, err := t.FetchLatest(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal inbound payload: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, TPEXInboundFile(date))
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("write inbound snapshot: %w", err)
	}

	t.log.WithFields(map[string]interface{}{
		"date": date,
		"rows": len(payload.AAData),
		"file": path,
	}).Info("TPEX snapshot fetched")
	return path, nil
}
