package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/falabr/ouvidoria-agent/scraper"
)

// DocType labels the origin of an indexed record.
const (
	DocTypeWiki = "wiki"
	DocTypePDF  = "pdf"
	DocTypeText = "txt"
)

// LoadFile converts uploaded PDF or TXT bytes into a single-section Document
// so flat files flow through the same normalize/chunk/embed pipeline as
// scraped trees.
func LoadFile(name, sourceURL string, data []byte) (*scraper.Document, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		doc, err := loadPDF(name, sourceURL, data)
		return doc, DocTypePDF, err
	case ".txt", ".md":
		doc, err := loadText(name, sourceURL, data)
		return doc, DocTypeText, err
	default:
		return nil, "", fmt.Errorf("unsupported file type %q (want .pdf or .txt)", ext)
	}
}

func loadPDF(name, sourceURL string, data []byte) (*scraper.Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	return flatDocument(name, sourceURL, buf.String()), nil
}

func loadText(name, sourceURL string, data []byte) (*scraper.Document, error) {
	content := scraper.RewriteLinks(string(data))
	return flatDocument(name, sourceURL, content), nil
}

func flatDocument(name, sourceURL, content string) *scraper.Document {
	content = normalizeNewlines(content)
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return &scraper.Document{
		WikiName: title,
		WikiURL:  sourceURL,
		Sections: []*scraper.Section{{
			Title:   title,
			Content: content,
		}},
	}
}

func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}
