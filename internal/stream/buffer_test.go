package stream

import (
	"strings"
	"testing"
)

func TestExtractLines_SplitsCompleteLines(t *testing.T) {
	res := ExtractLines(nil, []byte("one\ntwo\nthree"), 1024, 512)

	if len(res.Lines) != 2 {
		t.Fatalf("Lines = %v, want 2 entries", res.Lines)
	}
	if res.Lines[0] != "one" || res.Lines[1] != "two" {
		t.Errorf("Lines = %v, want [one two]", res.Lines)
	}
	if string(res.Rest) != "three" {
		t.Errorf("Rest = %q, want %q", res.Rest, "three")
	}
}

func TestExtractLines_CarriesPartialAcrossChunks(t *testing.T) {
	res := ExtractLines(nil, []byte(`{"partial":`), 1024, 512)
	if len(res.Lines) != 0 {
		t.Fatalf("Lines = %v, want none", res.Lines)
	}

	res = ExtractLines(res.Rest, []byte("1}\n"), 1024, 512)
	if len(res.Lines) != 1 || res.Lines[0] != `{"partial":1}` {
		t.Errorf("Lines = %v, want reassembled line", res.Lines)
	}
	if len(res.Rest) != 0 {
		t.Errorf("Rest = %q, want empty", res.Rest)
	}
}

func TestExtractLines_TrimsAndSkipsBlankLines(t *testing.T) {
	res := ExtractLines(nil, []byte("  a  \n\n\r\nb\n"), 1024, 512)
	if len(res.Lines) != 2 || res.Lines[0] != "a" || res.Lines[1] != "b" {
		t.Errorf("Lines = %v, want [a b]", res.Lines)
	}
}

func TestExtractLines_BufferOverflowDiscardsOldBuffer(t *testing.T) {
	buf := []byte(strings.Repeat("x", 90))
	res := ExtractLines(buf, []byte(strings.Repeat("y", 20)), 100, 100)

	if !res.BufferOverflow {
		t.Fatal("expected BufferOverflow")
	}
	if string(res.Rest) != strings.Repeat("y", 20) {
		t.Errorf("Rest = %q, want fresh chunk only", res.Rest)
	}
}

func TestExtractLines_OversizedFragmentDiscarded(t *testing.T) {
	res := ExtractLines(nil, []byte(strings.Repeat("z", 60)), 1024, 50)

	if !res.LineOverflow {
		t.Fatal("expected LineOverflow")
	}
	if len(res.Rest) != 0 {
		t.Errorf("Rest = %q, want empty after discard", res.Rest)
	}
}

// Buffer length never exceeds the configured maximum after processing
// any chunk, for arbitrary chunk sequences.
func TestExtractLines_BufferBoundInvariant(t *testing.T) {
	const maxBuffer, maxLine = 64, 64

	chunks := [][]byte{
		[]byte(strings.Repeat("a", 40)),
		[]byte(strings.Repeat("b", 40)),
		[]byte("\n"),
		[]byte(strings.Repeat("c", 63)),
		[]byte(strings.Repeat("d", 200)),
		[]byte("tail\n"),
	}

	var buf []byte
	for i, chunk := range chunks {
		res := ExtractLines(buf, chunk, maxBuffer, maxLine)
		buf = res.Rest
		if len(buf) > maxBuffer {
			t.Fatalf("after chunk %d: buffer length %d exceeds max %d", i, len(buf), maxBuffer)
		}
	}
}
