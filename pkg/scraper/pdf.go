package scraper

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFBytes caps how much of a remote PDF is downloaded.
const maxPDFBytes = 32 << 20

func isPDF(contentType string, data []byte) bool {
	return strings.Contains(contentType, "application/pdf") || bytes.HasPrefix(data, []byte("%PDF-"))
}

// pdfText returns the plain text of every page, pages separated by a blank
// line. Documents without a text layer fail with ErrUnsupportedDocument.
func pdfText(data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed PDF: %v", ErrUnsupportedDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: malformed PDF: %v", ErrUnsupportedDocument, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read PDF page %d: %w", i, err)
		}
		if content = cleanContent(content); content != "" {
			pages = append(pages, content)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("%w: PDF has no text layer", ErrUnsupportedDocument)
	}
	return strings.Join(pages, "\n\n"), nil
}

func readPDF(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPDFBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPDFBytes {
		return nil, fmt.Errorf("%w: PDF larger than %d bytes", ErrUnsupportedDocument, maxPDFBytes)
	}
	return data, nil
}
