package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/storage"
)

// testPDF builds a minimal uncompressed PDF with one line of text per
// page, with an exact xref table so the parser accepts it.
func testPDF(pages []string) []byte {
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// TestProcessPDFQueue drives the whole PDF path: download, one queue
// item per page, worker extraction, and per-page documents under
// fragment URLs, with the temp file released once the queue finishes.
func TestProcessPDFQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(testPDF([]string{"First page body", "Second page body", "Third page body"}))
	}))
	defer srv.Close()

	h, store := newTestHandler(t, nil)
	pdfURL := srv.URL + "/manual.pdf"

	rec := doRequest(t, h, http.MethodPost, "/queues", CreateQueueRequest{Type: "pdf", URL: pdfURL})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d body = %s", rec.Code, rec.Body)
	}
	var created CreateQueueResponse
	decodeBody(t, rec, &created)
	if created.TotalItems != 3 {
		t.Fatalf("total_items = %d, want 3", created.TotalItems)
	}

	tmpPath, err := store.GetQueueMeta(created.QueueID, "file_path")
	if err != nil || tmpPath == "" {
		t.Fatalf("file_path meta = %q, %v", tmpPath, err)
	}
	if _, err := os.Stat(tmpPath); err != nil {
		t.Fatalf("temp PDF missing while queue pending: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/queues/"+created.QueueID+"/process?max=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process: status = %d body = %s", rec.Code, rec.Body)
	}
	var processed map[string]int
	decodeBody(t, rec, &processed)
	if processed["processed"] != 3 {
		t.Errorf("processed = %d, want 3", processed["processed"])
	}

	rec = doRequest(t, h, http.MethodGet, "/queues/"+created.QueueID+"/status", nil)
	var status storage.QueueStatus
	decodeBody(t, rec, &status)
	if !status.Complete || status.Completed != 3 || status.Failed != 0 {
		t.Fatalf("status = %+v", status)
	}

	// Each page is its own document, keyed by the fragment URL.
	rec = doRequest(t, h, http.MethodGet, "/documents", nil)
	var page contentstore.GroupedPage
	decodeBody(t, rec, &page)
	if page.TotalGroups != 3 {
		t.Fatalf("documents = %+v", page)
	}
	want := map[string]bool{
		pdfURL + "#page=1": false,
		pdfURL + "#page=2": false,
		pdfURL + "#page=3": false,
	}
	for _, g := range page.Groups {
		if _, ok := want[g.SourceURL]; !ok {
			t.Errorf("unexpected document %s", g.SourceURL)
		}
		want[g.SourceURL] = true
	}
	for u, seen := range want {
		if !seen {
			t.Errorf("missing document %s", u)
		}
	}

	// The status check on a finished queue releases the temp file.
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp PDF still present after completion: %v", err)
	}
}

func TestCreatePDFQueueDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/queues", CreateQueueRequest{Type: "pdf", URL: srv.URL + "/gone.pdf"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestCreatePDFQueueInvalidFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a pdf"))
	}))
	defer srv.Close()

	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/queues", CreateQueueRequest{Type: "pdf", URL: srv.URL + "/fake.pdf"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}
