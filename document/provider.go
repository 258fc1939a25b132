package document

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Provider exposes the text of a loaded document, one page at a time.
// Page numbers are 1-based. A page without extractable text reports ok=false.
type Provider interface {
	PageCount() int
	PageText(page int) (string, bool)
}

// PDFProvider reads page text out of a PDF file. Constructing one corresponds
// to the "document loaded" readiness signal: the file is open and searchable
// before any index over its text exists.
type PDFProvider struct {
	file   *os.File
	reader *pdf.Reader
}

func OpenPDF(path string) (*PDFProvider, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &PDFProvider{file: file, reader: reader}, nil
}

func (p *PDFProvider) Close() error {
	return p.file.Close()
}

func (p *PDFProvider) PageCount() int {
	return p.reader.NumPage()
}

// PageText extracts the plain text of one page. Extraction failures are not
// errors; the page is simply absent from the index.
func (p *PDFProvider) PageText(page int) (string, bool) {
	if page < 1 || page > p.reader.NumPage() {
		return "", false
	}

	pg := p.reader.Page(page)
	if pg.V.IsNull() {
		return "", false
	}

	text, err := pg.GetPlainText(nil)
	if err != nil {
		return "", false
	}

	text = normalizeText(text)
	if text == "" {
		return "", false
	}
	return text, true
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
