package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsSender sends chunks to a Google Sheets spreadsheet through the
// values batchUpdate endpoint. One chunk is one API request, which is
// what the Budget accounts for.
type SheetsSender struct {
	svc           *sheets.Service
	spreadsheetID string
	headerRows    int
}

// NewSheetsSender builds a sender authenticated with the service-account
// credentials file. headerRows is the number of header rows above the
// first data row in every worksheet.
func NewSheetsSender(ctx context.Context, credentialsFile, spreadsheetID string, headerRows int) (*SheetsSender, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	if headerRows < 0 {
		headerRows = 0
	}
	return &SheetsSender{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		headerRows:    headerRows,
	}, nil
}

// SendChunk implements ChunkSender. Each op becomes one value range
// anchored at its row; deletes carry blank values, so a single
// batchUpdate call covers the whole chunk.
func (s *SheetsSender) SendChunk(ctx context.Context, worksheet string, ops []Op) error {
	data := make([]*sheets.ValueRange, 0, len(ops))
	for _, op := range ops {
		values := make([]any, len(op.Values))
		for i, v := range op.Values {
			values[i] = v
		}
		data = append(data, &sheets.ValueRange{
			Range:  s.rowRange(worksheet, op.RowIndex),
			Values: [][]any{values},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}

	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

// rowRange renders the A1-notation anchor for a data row.
func (s *SheetsSender) rowRange(worksheet string, rowIndex int) string {
	quoted := "'" + strings.ReplaceAll(worksheet, "'", "''") + "'"
	return fmt.Sprintf("%s!A%d", quoted, s.headerRows+rowIndex)
}

// classify maps a Sheets API failure onto the transient/permanent split.
// Rate limits and server errors come back; bad credentials and malformed
// requests do not, so those surface immediately.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return &Error{Class: Transient, Status: apiErr.Code, Err: err}
		case apiErr.Code >= 400:
			return &Error{Class: Permanent, Status: apiErr.Code, Err: err}
		}
	}
	// Connection failures, timeouts, EOF: transient.
	return &Error{Class: Transient, Err: err}
}
