// Package extract pulls page-ordered plain text out of uploaded PDF files.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/lectern-ai/lectern/internal/chunker"
)

const maxConcurrentPages = 4

// PDFPages extracts the text of every page of the PDF at path, in page order.
// Pages with no extractable text come back with empty text so page numbering
// stays aligned with the source document.
func PDFPages(ctx context.Context, path string) ([]chunker.Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	reader := bytes.NewReader(content)
	doc, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	numPages := doc.NumPage()
	texts := make([]string, numPages+1)

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentPages)
	for i := 1; i <= numPages; i++ {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := doc.Page(i)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("extracting page %d: %w", i, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pages := make([]chunker.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, chunker.Page{Number: i, Text: texts[i]})
	}
	return pages, nil
}
