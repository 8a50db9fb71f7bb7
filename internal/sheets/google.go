// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sheets

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	// DefaultSheetName is the tab rows are appended to.
	DefaultSheetName = "Sheet1"

	valueInputOption = "USER_ENTERED"
)

// GoogleSink appends rows to a Google Sheets spreadsheet.
type GoogleSink struct {
	svc           *gsheets.Service
	spreadsheetID string
	sheetName     string
}

// NewGoogleSink creates a Sheets API sink. With no credentials file the
// client falls back to application default credentials; extra options are
// passed to the API client.
func NewGoogleSink(ctx context.Context, spreadsheetID, sheetName, credentialsFile string, opts ...option.ClientOption) (*GoogleSink, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if sheetName == "" {
		sheetName = DefaultSheetName
	}

	clientOpts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleSink{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// EnsureHeader writes header to row 1 when that row is empty.
func (g *GoogleSink) EnsureHeader(ctx context.Context, header []string) error {
	rng := g.headerRange(len(header))

	res, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return wrapError("read header", err)
	}
	if len(res.Values) > 0 {
		return nil
	}

	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]interface{}{toCells(header)},
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return wrapError("write header", err)
	}
	return nil
}

// AppendRow appends one row after the last non-empty row.
func (g *GoogleSink) AppendRow(ctx context.Context, row []string) error {
	rng := fmt.Sprintf("%s!A:%s", g.sheetName, column(len(row)))

	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]interface{}{toCells(row)},
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return wrapError("append row", err)
	}
	return nil
}

func (g *GoogleSink) headerRange(width int) string {
	return fmt.Sprintf("%s!A1:%s1", g.sheetName, column(width))
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

// column returns the A1 letter of the n-th column (1-based).
func column(n int) string {
	if n < 1 {
		n = 1
	}
	var s []byte
	for n > 0 {
		n--
		s = append([]byte{byte('A' + n%26)}, s...)
		n /= 26
	}
	return string(s)
}

// wrapError adds the HTTP status of Google API failures.
func wrapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fmt.Errorf("sheets %s (HTTP %d): %w", op, gerr.Code, err)
	}
	return fmt.Errorf("sheets %s: %w", op, err)
}
