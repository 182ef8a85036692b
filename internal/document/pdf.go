package document

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ledongthuc/pdf"
)

// PDF extracts one text unit per page. PDFs cannot be rewritten in place, so
// the translated document is produced as a single XHTML file with one
// section per page.
type PDF struct{}

func (PDF) Name() string           { return "pdf" }
func (PDF) OutputMimeType() string { return MimeXHTML }

func (PDF) OutputFileName(sourceName, targetLanguage string) string {
	return outputName(sourceName, targetLanguage, ".xhtml")
}

// Extract returns the plain text of every non-empty page.
func (PDF) Extract(ctx context.Context, data []byte) ([]Unit, error) {
	pages, err := readPages(ctx, data)
	if err != nil {
		return nil, err
	}
	units := make([]Unit, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		units = append(units, p)
	}
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	return units, nil
}

// Reconstruct renders every page in order, using the translation when one exists.
func (PDF) Reconstruct(ctx context.Context, original []byte, translated []TranslatedUnit) ([]byte, error) {
	pages, err := readPages(ctx, original)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]TranslatedUnit, len(translated))
	for _, t := range translated {
		byID[t.ID] = t
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<!DOCTYPE html>` + "\n")
	buf.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml"><head><meta charset="UTF-8"/><title>Translated document</title></head><body>` + "\n")
	for _, p := range pages {
		content := p.Content
		if t, ok := byID[p.ID]; ok {
			content = t.Content
		}
		fmt.Fprintf(&buf, "<section id=%q>\n", p.ID)
		for _, para := range paragraphs(content) {
			buf.WriteString("<p>")
			buf.WriteString(html.EscapeString(para))
			buf.WriteString("</p>\n")
		}
		buf.WriteString("</section>\n")
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

func readPages(ctx context.Context, data []byte) ([]Unit, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "open pdf")
	}
	total := reader.NumPage()
	pages := make([]Unit, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "read pdf page %d", i)
		}
		pages = append(pages, Unit{
			ID:      fmt.Sprintf("page-%04d", i),
			Title:   fmt.Sprintf("Page %d", i),
			Content: strings.TrimSpace(text),
		})
	}
	return pages, nil
}

func paragraphs(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
