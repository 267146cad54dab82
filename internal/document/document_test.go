package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadText(t *testing.T) {
	got, err := Read("order.md", strings.NewReader("\n  A customer places an order.\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "A customer places an order." {
		t.Errorf("got %q", got)
	}
}

func TestReadHTML(t *testing.T) {
	page := `<html><head><title>ignored</title><style>p{}</style></head>
<body><h1>Order process</h1>
<script>var x = 1;</script>
<p>The clerk   checks
the order.</p><p>Then it ships.</p></body></html>`

	got, err := Read("order.HTML", strings.NewReader(page))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "Order process\nThe clerk checks the order.\nThen it ships."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadUnsupported(t *testing.T) {
	_, err := Read("model.docx", strings.NewReader("x"))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestReadEmpty(t *testing.T) {
	if _, err := Read("empty.txt", strings.NewReader("   \n")); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := Read("empty.html", strings.NewReader("<script>only()</script>")); err == nil {
		t.Error("expected error for HTML without text")
	}
}

func TestReadInvalidPDF(t *testing.T) {
	_, err := Read("broken.pdf", strings.NewReader("not a pdf"))
	if err == nil {
		t.Fatal("expected error for invalid PDF")
	}
	if !strings.Contains(err.Error(), "broken.pdf") {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestReadTooLarge(t *testing.T) {
	big := strings.NewReader(strings.Repeat("a", MaxSize+1))
	if _, err := Read("big.txt", big); err == nil {
		t.Error("expected size error")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desc.txt")
	if err := os.WriteFile(path, []byte("Approve the invoice."), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "Approve the invoice." {
		t.Errorf("got %q", got)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
