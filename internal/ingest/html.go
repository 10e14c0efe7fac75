package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"thresher/internal/frame"
)

// HTMLOptions controls HTML table ingestion.
type HTMLOptions struct {
	// Selector locates the table element; empty means the document's first
	// "table".
	Selector string

	// HeaderMap and Types behave as in CSVOptions.
	HeaderMap map[string]string
	Types     map[string]frame.Kind
}

// ReadHTMLTable extracts one HTML table into a typed snapshot. The header row
// comes from thead th cells, falling back to the first row; every following
// tr contributes one data row. Missing selectors are errors here, unlike
// scraping pipelines: an analysis source that silently reads zero rows hides
// configuration mistakes.
func ReadHTMLTable(r io.Reader, opts HTMLOptions) (*frame.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse html: %w", err)
	}

	selector := opts.Selector
	if selector == "" {
		selector = "table"
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("ingest: no table matches %q", selector)
	}

	headers, bodyRows := splitTable(table)
	if len(headers) == 0 {
		return nil, fmt.Errorf("ingest: table %q has no header row", selector)
	}
	for i, h := range headers {
		headers[i] = normalizeHeader(h, i == 0, opts.HeaderMap)
	}

	columns := make([][]string, len(headers))
	for rowIdx, cells := range bodyRows {
		if len(cells) > len(headers) {
			return nil, fmt.Errorf("ingest: table row %d has %d cells, header has %d", rowIdx+1, len(cells), len(headers))
		}
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			columns[i] = append(columns[i], cell)
		}
	}

	return buildSnapshot(headers, columns, opts.Types)
}

// splitTable separates the header cells from the body rows. A thead wins when
// present; otherwise the first row is the header.
func splitTable(table *goquery.Selection) (headers []string, body [][]string) {
	headRow := table.Find("thead tr").First()
	if headRow.Length() > 0 {
		headers = rowCells(headRow)
		table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			body = append(body, rowCells(tr))
		})
		if len(body) == 0 {
			// No tbody markup: take every row outside thead.
			table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
				if tr.Closest("thead").Length() == 0 {
					body = append(body, rowCells(tr))
				}
			})
		}
		return headers, body
	}

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			headers = rowCells(tr)
			return
		}
		body = append(body, rowCells(tr))
	})
	return headers, body
}

func rowCells(tr *goquery.Selection) []string {
	var out []string
	tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		out = append(out, strings.TrimSpace(cell.Text()))
	})
	return out
}
