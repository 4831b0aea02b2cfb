package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"hroshi/internal/cache"
	"hroshi/internal/core"
	ports "hroshi/internal/sheets"
)

const (
	DefaultLedgerSheet = "Sheet1"
	DefaultLimitsSheet = "Ліміти"

	scanCacheKey = "ledger"
)

// Config selects the spreadsheet and how to authenticate against it.
type Config struct {
	SpreadsheetID string
	LedgerSheet   string
	LimitsSheet   string

	// One of these supplies the service account key; they are tried in order.
	ServiceAccountJSON string
	ServiceAccountFile string
	CredentialsB64     string

	// ScanCacheTTL caches ScanAll results; zero disables the cache.
	ScanCacheTTL time.Duration
}

// Client is the Google Sheets ledger: one sheet of entries and one of limits.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerSheet   string
	limitsSheet   string
	scanCache     *cache.LRUCache[[]core.RawRow]
}

var _ ports.Ledger = (*Client)(nil)

// NewFromConfig authenticates with a service account and creates the client.
func NewFromConfig(ctx context.Context, cfg Config) (*Client, error) {
	credentialsJSON, err := serviceAccountJSON(cfg)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return New(svc, cfg)
}

// New wraps an existing service; tests point it at a fake endpoint.
func New(svc *gsheet.Service, cfg Config) (*Client, error) {
	if svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	c := &Client{
		svc:           svc,
		spreadsheetID: id,
		ledgerSheet:   orDefault(cfg.LedgerSheet, DefaultLedgerSheet),
		limitsSheet:   orDefault(cfg.LimitsSheet, DefaultLimitsSheet),
	}
	if cfg.ScanCacheTTL > 0 {
		c.scanCache = cache.NewLRUCache[[]core.RawRow](1, cfg.ScanCacheTTL)
	}
	return c, nil
}

// ScanCache exposes the scan cache for periodic cleanup; nil when disabled.
func (c *Client) ScanCache() cache.Cleaner {
	if c.scanCache == nil {
		return nil
	}
	return c.scanCache
}

func serviceAccountJSON(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		return []byte(cfg.ServiceAccountJSON), nil
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	case strings.TrimSpace(cfg.CredentialsB64) != "":
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.CredentialsB64))
		if err != nil {
			return nil, fmt.Errorf("decode base64 credentials: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_CREDS_B64)")
	}
}

// Append writes one ledger row after the last non-empty one.
func (c *Client) Append(ctx context.Context, rec core.LedgerRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	row := rec.Row()
	vr := &gsheet.ValueRange{Values: [][]any{{
		row.Timestamp,
		row.UserName,
		rec.SignedAmount.InexactFloat64(),
		row.Category,
		row.Subcategory,
	}}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(c.ledgerSheet, "A:E"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.ledgerSheet, err)
	}
	if c.scanCache != nil {
		c.scanCache.Delete(scanCacheKey)
	}

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return a1(c.ledgerSheet, "A:E"), nil
}

// ScanAll reads every ledger row as strings. Numbers come back unformatted
// so that amounts do not carry the sheet's display locale.
func (c *Client) ScanAll(ctx context.Context) ([]core.RawRow, error) {
	if c.scanCache != nil {
		if rows, ok := c.scanCache.Get(scanCacheKey); ok {
			return append([]core.RawRow(nil), rows...), nil
		}
	}

	values, err := c.readRange(ctx, a1(c.ledgerSheet, "A:E"))
	if err != nil {
		return nil, err
	}
	rows := make([]core.RawRow, 0, len(values))
	for _, v := range values {
		cols := toStrings(v)
		if isBlank(cols) {
			continue
		}
		rows = append(rows, core.RawRow{
			Timestamp:   cell(cols, 0),
			UserName:    cell(cols, 1),
			Amount:      cell(cols, 2),
			Category:    cell(cols, 3),
			Subcategory: cell(cols, 4),
		})
	}

	if c.scanCache != nil {
		c.scanCache.Set(scanCacheKey, rows)
	}
	return append([]core.RawRow(nil), rows...), nil
}

// ReadLimits reads the limits sheet. A missing sheet means no limits.
func (c *Client) ReadLimits(ctx context.Context) ([]core.RawLimit, error) {
	values, err := c.readRange(ctx, a1(c.limitsSheet, "A:B"))
	if isMissingSheet(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]core.RawLimit, 0, len(values))
	for _, v := range values {
		cols := toStrings(v)
		if isBlank(cols) {
			continue
		}
		out = append(out, core.RawLimit{Category: cell(cols, 0), Limit: cell(cols, 1)})
	}
	return out, nil
}

// UpsertLimit overwrites the last row of category or appends a new one,
// creating the limits sheet on first use.
func (c *Client) UpsertLimit(ctx context.Context, category string, limit decimal.Decimal) error {
	category = core.NormalizeCategory(category)
	if category == "" {
		return core.ErrEmptyCategory
	}

	values, err := c.readRange(ctx, a1(c.limitsSheet, "A:B"))
	if isMissingSheet(err) {
		if err := c.addSheet(ctx, c.limitsSheet); err != nil {
			return err
		}
		values, err = nil, nil
	}
	if err != nil {
		return err
	}

	row := -1
	for i, v := range values {
		cols := toStrings(v)
		if core.NormalizeCategory(cell(cols, 0)) == category {
			row = i + 1
		}
	}

	vr := &gsheet.ValueRange{Values: [][]any{{category, limit.InexactFloat64()}}}
	if row > 0 {
		rng := a1(c.limitsSheet, fmt.Sprintf("A%d:B%d", row, row))
		_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("update %s: %w", rng, err)
		}
		return nil
	}

	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(c.limitsSheet, "A:B"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", c.limitsSheet, err)
	}
	return nil
}

func (c *Client) readRange(ctx context.Context, rng string) ([][]any, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Created sheet", "title", title)
	return nil
}

// isMissingSheet recognises the API's answer for a range on an absent sheet.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
}

// a1 quotes the sheet title for use in A1 notation.
func a1(sheet, rng string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheet, "'", "''"), rng)
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		switch x := v.(type) {
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		case nil:
			out[i] = ""
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(x))
		}
	}
	return out
}

func cell(cols []string, i int) string {
	if i < 0 || i >= len(cols) {
		return ""
	}
	return cols[i]
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
