package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/twlin/formosa/pkg/httputil"
	"github.com/twlin/formosa/pkg/logger"
)

// DefaultLookbackDays bounds how far back the TWSE fetcher walks when the
// most recent days have no published data (weekends, holidays).
const DefaultLookbackDays = 14

// TWSE fetches the after-trading MI_INDEX snapshot. The rwd endpoint is
// preferred; the legacy exchangeReport endpoint is the fallback per date.
type TWSE struct {
	client       *httputil.Client
	baseURL      string
	lookbackDays int
	now          func() time.Time
	log          *logger.Logger
}

func NewTWSE(client *httputil.Client, baseURL string, log *logger.Logger) *TWSE {
	return &TWSE{
		client:       client,
		baseURL:      strings.TrimRight(baseURL, "/"),
		lookbackDays: DefaultLookbackDays,
		now:          time.Now,
		log:          log,
	}
}

// WithLookback overrides the date walk depth.
func (t *TWSE) WithLookback(days int) *TWSE {
	t.lookbackDays = days
	return t
}

// WithClock overrides the clock, used by tests.
func (t *TWSE) WithClock(now func() time.Time) *TWSE {
	t.now = now
	return t
}

// FetchLatest walks back from today until a date with published data is
// found. It returns the date token (YYYYMMDD), the raw payload and the
// endpoint variant that served it ("rwd" or "exchangeReport").
func (t *TWSE) FetchLatest(ctx context.Context) (string, map[string]interface{}, string, error) {
	today := t.now()

	for i := 0; i <= t.lookbackDays; i++ {
		date := today.AddDate(0, 0, -i).Format("20060102")

		for _, variant := range []struct {
			name string
			path string
		}{
			{"rwd", "/rwd/zh/afterTrading/MI_INDEX"},
			{"exchangeReport", "/exchangeReport/MI_INDEX"},
		} {
			payload, err := t.fetchDate(ctx, variant.path, date)
			if err != nil {
				t.log.WithError(err).WithFields(map[string]interface{}{
					"date":    date,
					"variant": variant.name,
				}).Debug("TWSE fetch attempt failed")
				continue
			}
			if looksOK(payload) {
				return date, payload, variant.name, nil
			}
		}
	}

	return "", nil, "", fmt.Errorf("twse fetch failed: no valid data within last %d days", t.lookbackDays)
}

func (t *TWSE) fetchDate(ctx context.Context, path, date string) (map[string]interface{}, error) {
	q := url.Values{}
	q.Set("date", date)
	q.Set("type", "ALLBUT0999")
	q.Set("response", "json")

	body, err := t.client.GetBody(ctx, t.baseURL+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode MI_INDEX payload: %w", err)
	}
	return payload, nil
}

// looksOK accepts a payload whose stat field signals success and which
// carries at least one non-empty data table in either format.
func looksOK(payload map[string]interface{}) bool {
	stat, _ := payload["stat"].(string)
	stat = strings.TrimSpace(stat)
	ok := stat == "" || strings.Contains(strings.ToUpper(stat), "OK") || strings.Contains(stat, "成功")
	if !ok {
		return false
	}

	// rwd format: tables is a list of objects each holding a data list.
	if tables, isList := payload["tables"].([]interface{}); isList {
		for _, raw := range tables {
			table, isObj := raw.(map[string]interface{})
			if !isObj {
				continue
			}
			if data, has := table["data"].([]interface{}); has && len(data) > 0 {
				return true
			}
		}
	}

	// Legacy format: any non-empty dataN list.
	for key, v := range payload {
		if !strings.HasPrefix(key, "data") {
			continue
		}
		if list, isList := v.([]interface{}); isList && len(list) > 0 {
			return true
		}
	}
	return false
}

// TWSEInboundFile is the inbound artifact name for a date token.
func TWSEInboundFile(date string) string {
	return fmt.Sprintf("twse_MI_INDEX_%s.json", date)
}

// FetchToDir fetches the latest snapshot and writes it into dir. The payload
// is annotated with the serving endpoint variant under "_source".
func (t *TWSE) FetchToDir(ctx context.Context, dir string) (string, error) {
	date, payload, source, err := t.FetchLatest(ctx)
	if err != nil {
		return "", err
	}
	payload["_source"] = source

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal inbound payload: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, TWSEInboundFile(date))
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("write inbound snapshot: %w", err)
	}

	t.log.WithFields(map[string]interface{}{
		"date":   date,
		"source": source,
		"file":   path,
	}).Info("TWSE snapshot fetched")
	return path, nil
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
