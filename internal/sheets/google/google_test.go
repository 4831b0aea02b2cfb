package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"hroshi/internal/core"
)

const testSpreadsheet = "sid"

// fakeSheets is an in-memory stand-in for the Sheets values API.
type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]any
	gets   int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{sheets: map[string][][]any{DefaultLedgerSheet: {}}}
}

func sheetOf(rng string) string {
	name := rng[:strings.LastIndex(rng, "!")]
	return strings.ReplaceAll(strings.Trim(name, "'"), "''", "'")
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/v4/spreadsheets/" + testSpreadsheet
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	if path == ":batchUpdate" && r.Method == http.MethodPost {
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, q := range req.Requests {
			f.sheets[q.AddSheet.Properties.Title] = [][]any{}
		}
		_, _ = w.Write([]byte(`{}`))
		return
	}

	rng := strings.TrimPrefix(path, "/values/")
	switch {
	case r.Method == http.MethodGet:
		f.gets++
		rows, ok := f.sheets[sheetOf(rng)]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"error":{"code":400,"message":"Unable to parse range: %s"}}`, rng)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": rows})
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
		rng = strings.TrimSuffix(rng, ":append")
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		name := sheetOf(rng)
		f.sheets[name] = append(f.sheets[name], vr.Values...)
		n := len(f.sheets[name])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": fmt.Sprintf("'%s'!A%d:E%d", name, n, n)},
		})
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		cells := rng[strings.LastIndex(rng, "!")+2:]
		n, _ := strconv.Atoi(cells[:strings.Index(cells, ":")])
		f.sheets[sheetOf(rng)][n-1] = vr.Values[0]
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets, ttl time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	c, err := New(svc, Config{SpreadsheetID: testSpreadsheet, ScanCacheTTL: ttl})
	require.NoError(t, err)
	return c
}

func TestAppendAndScanAll(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSheets()
	fake.sheets[DefaultLedgerSheet] = [][]any{{"Дата", "Хто", "Сума", "Категорія", "Підкатегорія"}}
	c := newTestClient(t, fake, 0)

	ref, err := c.Append(ctx, core.LedgerRecord{
		Timestamp:    time.Date(2025, 4, 1, 9, 5, 0, 0, time.UTC),
		UserName:     "Оля",
		SignedAmount: decimal.RequireFromString("-120.5"),
		Category:     "авто",
		Subcategory:  "бензин",
	})
	require.NoError(t, err)
	assert.Equal(t, "'Sheet1'!A2:E2", ref)

	rows, err := c.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.RawRow{
		Timestamp: "2025-04-01 09:05", UserName: "Оля", Amount: "-120.5", Category: "авто", Subcategory: "бензин",
	}, rows[1])

	_, err = core.ParseRow(rows[0], time.UTC)
	assert.ErrorIs(t, err, core.ErrMalformedRow, "header row is skipped by callers")
}

func TestScanAllFormatsNumbersAndPadsShortRows(t *testing.T) {
	fake := newFakeSheets()
	fake.sheets[DefaultLedgerSheet] = [][]any{
		{"2025-04-02 10:00", "Андрій", 1000000.0, "прихід"},
		{},
		{"", ""},
	}
	c := newTestClient(t, fake, 0)

	rows, err := c.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1000000", rows[0].Amount)
	assert.Equal(t, "", rows[0].Subcategory)
}

func TestScanCacheInvalidatedOnAppend(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSheets()
	c := newTestClient(t, fake, time.Minute)
	require.NotNil(t, c.ScanCache())

	_, err := c.ScanAll(ctx)
	require.NoError(t, err)
	_, err = c.ScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.gets)

	_, err = c.Append(ctx, core.LedgerRecord{
		Timestamp: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), UserName: "Оля",
		SignedAmount: decimal.NewFromInt(-5), Category: "кава",
	})
	require.NoError(t, err)

	rows, err := c.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, fake.gets)
}

func TestLimitsSheetLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSheets()
	c := newTestClient(t, fake, 0)

	limits, err := c.ReadLimits(ctx)
	require.NoError(t, err)
	assert.Empty(t, limits, "missing limits sheet reads as empty")

	require.NoError(t, c.UpsertLimit(ctx, "Продукти", decimal.NewFromInt(8000)))
	require.NoError(t, c.UpsertLimit(ctx, "кіно", decimal.RequireFromString("450.5")))
	require.NoError(t, c.UpsertLimit(ctx, "продукти", decimal.NewFromInt(9000)))

	limits, err = c.ReadLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RawLimit{
		{Category: "продукти", Limit: "9000"},
		{Category: "кіно", Limit: "450.5"},
	}, limits)

	assert.ErrorIs(t, c.UpsertLimit(ctx, " ", decimal.NewFromInt(1)), core.ErrEmptyCategory)
}

func TestReadErrorsPropagate(t *testing.T) {
	fake := newFakeSheets()
	delete(fake.sheets, DefaultLedgerSheet)
	c := newTestClient(t, fake, 0)

	_, err := c.ScanAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Sheet1")
}

func TestServiceAccountJSONSources(t *testing.T) {
	b, err := serviceAccountJSON(Config{ServiceAccountJSON: `{"type":"service_account"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(b))

	encoded := base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))
	b, err = serviceAccountJSON(Config{CredentialsB64: encoded})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	_, err = serviceAccountJSON(Config{CredentialsB64: "%%%"})
	assert.Error(t, err)
	_, err = serviceAccountJSON(Config{ServiceAccountFile: "/nonexistent/key.json"})
	assert.Error(t, err)
	_, err = serviceAccountJSON(Config{})
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{SpreadsheetID: "x"})
	assert.Error(t, err)

	svc, err := gsheet.NewService(context.Background(), goption.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(svc, Config{})
	assert.Error(t, err)

	c, err := New(svc, Config{SpreadsheetID: "x"})
	require.NoError(t, err)
	assert.Nil(t, c.ScanCache())
	assert.Equal(t, DefaultLimitsSheet, c.limitsSheet)
	assert.Equal(t, "'it''s'!A:B", a1("it's", "A:B"))
}
