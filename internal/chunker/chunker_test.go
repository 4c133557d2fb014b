package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		if _, err := Split(text, 100); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Split(%q): got %v, want ErrEmptyContent", text, err)
		}
	}
}

func TestSplitSingleChunk(t *testing.T) {
	res, err := Split("short text", 100)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(res.Segments))
	}
	seg := res.Segments[0]
	if seg.Index != 0 || seg.Total != 1 {
		t.Errorf("segment index/total = %d/%d, want 0/1", seg.Index, seg.Total)
	}
	if seg.Text != "short text" {
		t.Errorf("segment text = %q", seg.Text)
	}
}

// TestSplitComplete verifies no characters are lost: the concatenation
// of all segments reproduces the input exactly.
func TestSplitComplete(t *testing.T) {
	texts := []string{
		strings.Repeat("First paragraph with several sentences. Here is another one. And a third.\n\n", 20),
		strings.Repeat("word ", 500),
		strings.Repeat("nobreaksatall", 200),
		"Line one\nLine two\nLine three\n" + strings.Repeat("padding sentence here. ", 100),
	}

	for _, text := range texts {
		res, err := Split(text, 100)
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		var b strings.Builder
		for _, seg := range res.Segments {
			b.WriteString(seg.Text)
		}
		if b.String() != text {
			t.Errorf("concatenated segments do not reproduce input (len %d vs %d)", b.Len(), len(text))
		}
	}
}

func TestSplitRespectsMaxSize(t *testing.T) {
	text := strings.Repeat("A reasonably sized sentence for splitting purposes. ", 100)
	res, err := Split(text, 120)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, seg := range res.Segments {
		if n := utf8.RuneCountInString(seg.Text); n > 120 {
			t.Errorf("segment %d has %d runes, max 120", i, n)
		}
	}
}

func TestSplitIndicesContiguous(t *testing.T) {
	text := strings.Repeat("Sentence number one goes here. ", 50)
	res, err := Split(text, 80)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(res.Segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(res.Segments))
	}
	for i, seg := range res.Segments {
		if seg.Index != i {
			t.Errorf("segment %d carries index %d", i, seg.Index)
		}
		if seg.Total != len(res.Segments) {
			t.Errorf("segment %d total = %d, want %d", i, seg.Total, len(res.Segments))
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Stable input should split identically. ", 40)
	a, err := Split(text, 90)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, err := Split(text, 90)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(a.Segments) != len(b.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(a.Segments), len(b.Segments))
	}
	for i := range a.Segments {
		if a.Segments[i].Text != b.Segments[i].Text {
			t.Errorf("segment %d differs between runs", i)
		}
	}
}

// TestSplitSeparatorOnlyAtEnd covers oversized text whose only
// separator occurrence trails the content: splitting on it cannot
// shrink the text, so the splitter must move on to finer separators
// instead of recursing on the same input.
func TestSplitSeparatorOnlyAtEnd(t *testing.T) {
	for _, sep := range []string{"\n\n", "\n", ". "} {
		text := strings.Repeat("a", 50) + sep
		res, err := Split(text, 10)
		if err != nil {
			t.Fatalf("Split(%q suffix): %v", sep, err)
		}
		var b strings.Builder
		for i, seg := range res.Segments {
			if n := utf8.RuneCountInString(seg.Text); n > 10 {
				t.Errorf("sep %q: segment %d has %d runes, max 10", sep, i, n)
			}
			b.WriteString(seg.Text)
		}
		if b.String() != text {
			t.Errorf("sep %q: segments do not reproduce input", sep)
		}
	}
}

func TestSplitDefaultSize(t *testing.T) {
	text := strings.Repeat("x", 2500)
	res, err := Split(text, 0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	// 2500 runes at the default 1000-rune cap needs at least 3 chunks.
	if len(res.Segments) < 3 {
		t.Errorf("got %d segments, want >= 3", len(res.Segments))
	}
}

func TestSplitTruncates(t *testing.T) {
	text := strings.Repeat("a", maxContentRunes+100)
	res, err := Split(text, 1000)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !res.Truncated {
		t.Error("expected truncation flag")
	}
	var total int
	for _, seg := range res.Segments {
		total += utf8.RuneCountInString(seg.Text)
	}
	if total != maxContentRunes {
		t.Errorf("kept %d runes, want %d", total, maxContentRunes)
	}
}

func TestSplitMultibyte(t *testing.T) {
	text := strings.Repeat("日本語のテキストです。", 100)
	res, err := Split(text, 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	var b strings.Builder
	for _, seg := range res.Segments {
		if !utf8.ValidString(seg.Text) {
			t.Fatal("segment split mid-rune")
		}
		b.WriteString(seg.Text)
	}
	if b.String() != text {
		t.Error("multibyte input not reproduced")
	}
}
