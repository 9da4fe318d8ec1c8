package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// tabClient is the slice of the Sheets API the backend needs.
type tabClient interface {
	ListTabs(ctx context.Context) ([]string, error)
	AddTab(ctx context.Context, title string) error
	Append(ctx context.Context, a1Range string, rows [][]interface{}) error
	Get(ctx context.Context, a1Range string) ([][]interface{}, error)
}

// serviceClient implements tabClient on a single spreadsheet.
type serviceClient struct {
	svc           *sheets.Service
	spreadsheetID string
}

func newServiceClient(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*serviceClient, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &serviceClient{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (c *serviceClient) ListTabs(ctx context.Context) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (c *serviceClient) AddTab(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (c *serviceClient) Append(ctx context.Context, a1Range string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1Range, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (c *serviceClient) Get(ctx context.Context, a1Range string) ([][]interface{}, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1Range).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

// quoteTab renders a tab title for A1 notation.
func quoteTab(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
