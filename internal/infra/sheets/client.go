// Package sheets is the mirror store adapter backed by the Google Sheets v4
// API. Each group is one tab; each account is one row with columns
// A..F = user id, full name, phone, username, points, last updated.
//
// The mirror offers no transactional guarantees and is freely editable by
// humans while the engine runs. This package only moves cells; every
// conflict decision belongs to the reconciler.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sheetsv4 "google.golang.org/api/sheets/v4"
	"google.golang.org/api/option"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// headerRows is the number of non-data rows at the top of every tab.
	headerRows = 1

	// dataRange covers the six mirrored columns below the header.
	dataRange = "A2:F"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds Google Sheets connection settings.
type Config struct {
	// SpreadsheetID is the document id from the sheet URL.
	SpreadsheetID string

	// CredentialsFile is the path to a service-account JSON key.
	CredentialsFile string
}

// Validate checks the config for obvious mistakes.
func (c Config) Validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("sheets: spreadsheet id is required")
	}
	if c.CredentialsFile == "" {
		return fmt.Errorf("sheets: credentials file is required")
	}
	return nil
}

// ─── Client ─────────────────────────────────────────────────────────────────

// Client implements domain.MirrorStore against one spreadsheet document.
type Client struct {
	svc           *sheetsv4.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64 // tab title → numeric sheet id
}

var _ domain.MirrorStore = (*Client)(nil)

// New connects to the Sheets API with a service-account key.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc, err := sheetsv4.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheetsv4.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("sheets: connect: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// ReadRows returns every parseable data row of the tab, in sheet order. Rows
// without a user id or with an unreadable points cell are skipped rather than
// failing the whole read: one mangled human edit must not block everyone
// else's sync.
func (c *Client) ReadRows(ctx context.Context, sheetName string) ([]domain.MirrorRow, error) {
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, rangeRef(sheetName, dataRange)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", sheetName, err)
	}

	var rows []domain.MirrorRow
	for i, cells := range resp.Values {
		row, ok := parseRow(cells)
		if !ok {
			continue
		}
		row.RowIndex = headerRows + 1 + i
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteRow updates the points and timestamp cells (E and F) of one row.
// rowIndex is 1-based and includes the header row.
func (c *Client) WriteRow(ctx context.Context, sheetName string, rowIndex int, points int64, stamp string) error {
	if rowIndex <= headerRows {
		return fmt.Errorf("sheets: write %s: row %d is not a data row", sheetName, rowIndex)
	}
	vr := &sheetsv4.ValueRange{
		Values: [][]any{{points, stamp}},
	}
	_, err := c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, rangeRef(sheetName, fmt.Sprintf("E%d:F%d", rowIndex, rowIndex)), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write %s row %d: %w", sheetName, rowIndex, err)
	}
	return nil
}

// AppendRow adds a full account row below the existing data.
func (c *Client) AppendRow(ctx context.Context, sheetName string, row domain.MirrorRow) error {
	vr := &sheetsv4.ValueRange{
		Values: [][]any{{
			row.UserID, row.FullName, row.Phone, row.Username, row.Points, row.UpdatedAt,
		}},
	}
	_, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, rangeRef(sheetName, "A:F"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: append to %s: %w", sheetName, err)
	}
	return nil
}

// DeleteRow removes one row entirely. rowIndex is 1-based including header.
func (c *Client) DeleteRow(ctx context.Context, sheetName string, rowIndex int) error {
	if rowIndex <= headerRows {
		return fmt.Errorf("sheets: delete %s: row %d is not a data row", sheetName, rowIndex)
	}
	sheetID, err := c.sheetID(ctx, sheetName)
	if err != nil {
		return err
	}
	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			DeleteDimension: &sheetsv4.DeleteDimensionRequest{
				Range: &sheetsv4.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex - 1), // API rows are 0-based
					EndIndex:   int64(rowIndex),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: delete %s row %d: %w", sheetName, rowIndex, err)
	}
	return nil
}

// ListSheets returns the tab titles of the document, in tab order.
func (c *Client) ListSheets(ctx context.Context) ([]string, error) {
	doc, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: list tabs: %w", err)
	}

	names := make([]string, 0, len(doc.Sheets))
	c.mu.Lock()
	for _, s := range doc.Sheets {
		if s.Properties == nil {
			continue
		}
		names = append(names, s.Properties.Title)
		c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
	}
	c.mu.Unlock()
	return names, nil
}

// sheetID resolves a tab title to its numeric id, refreshing the cache on a
// miss (the tab may have been created since the last ListSheets).
func (c *Client) sheetID(ctx context.Context, sheetName string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[sheetName]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ListSheets(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	id, ok = c.sheetIDs[sheetName]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("sheets: no tab named %q", sheetName)
	}
	return id, nil
}

// rangeRef builds an A1 range reference with the tab title quoted, since
// group names routinely contain spaces.
func rangeRef(sheetName, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheetName, "'", "''"), cells)
}
