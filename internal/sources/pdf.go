// Package sources fetches and extracts raw text from the ingestible
// content types: PDFs, sitemaps, and web pages.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFSize bounds a PDF download.
const maxPDFSize = 50 << 20 // 50MB

// DownloadPDF fetches a PDF to a temporary file under dir and returns
// its path. The caller owns the file and removes it when the queue is
// done or cancelled.
func DownloadPDF(ctx context.Context, client *http.Client, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "ingestd-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxPDFSize)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	return tmp.Name(), nil
}

// PDFPageCount returns the number of pages in the PDF at path.
func PDFPageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	return r.NumPage(), nil
}

// PDFPageText extracts the plain text of one page (1-based).
func PDFPageText(path string, page int) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	if page < 1 || page > r.NumPage() {
		return "", fmt.Errorf("page %d out of range (1-%d)", page, r.NumPage())
	}

	p := r.Page(page)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d is empty", page)
	}

	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extracting text from page %d: %w", page, err)
	}
	return strings.TrimSpace(text), nil
}
