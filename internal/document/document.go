// Package document extracts plain text from process descriptions supplied
// as files.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxSize caps how much of a document is read.
const MaxSize = 10 << 20

// ErrUnsupported is returned for file types that cannot be read.
var ErrUnsupported = errors.New("unsupported document type")

// ReadFile reads the document at path and returns its text.
func ReadFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Read(filepath.Base(path), f)
}

// Read returns the text of a document, picking the decoder from name's
// extension. Text and markdown are returned as is.
func Read(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%s is larger than %d bytes", name, MaxSize)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt", ".md", ".markdown", "":
		text = string(data)
	case ".html", ".htm":
		text, err = HTMLText(bytes.NewReader(data))
	case ".pdf":
		text, err = PDFText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s contains no text", name)
	}
	return text, nil
}

// HTMLText returns the visible text of an HTML document with one line per
// block of text.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}

// PDFText returns the plain text of every page in a PDF.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
