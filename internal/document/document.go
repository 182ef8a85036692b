package document

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	MimeEPUB  = "application/epub+zip"
	MimePDF   = "application/pdf"
	MimeXHTML = "application/xhtml+xml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoUnits           = errors.New("document has no translatable units")
)

// Unit is one independently translatable piece of a document, such as an
// EPUB chapter or a PDF page. IDs are stable across re-extraction.
type Unit struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// TranslatedUnit carries translated content for the unit with the same ID.
type TranslatedUnit struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Format splits a document into units and reassembles it from translations.
// Units missing from translated keep their original content.
type Format interface {
	Name() string
	Extract(ctx context.Context, data []byte) ([]Unit, error)
	Reconstruct(ctx context.Context, original []byte, translated []TranslatedUnit) ([]byte, error)
	OutputMimeType() string
	OutputFileName(sourceName, targetLanguage string) string
}

// ForFile picks the format for a document. The choice is made once per job
// from the stored MIME type, falling back to the file extension and content.
func ForFile(mimeType, fileName string, data []byte) (Format, error) {
	switch normalizeMimeType(mimeType, fileName, data) {
	case MimeEPUB:
		return EPUB{}, nil
	case MimePDF:
		return PDF{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "mime=%s name=%s", mimeType, fileName)
	}
}

// Supported reports whether ForFile would accept the document.
func Supported(mimeType, fileName string, data []byte) bool {
	_, err := ForFile(mimeType, fileName, data)
	return err == nil
}

// DetectMimeType returns the canonical MIME type of a supported document, or
// an empty string when no format accepts it.
func DetectMimeType(mimeType, fileName string, data []byte) string {
	switch m := normalizeMimeType(mimeType, fileName, data); m {
	case MimeEPUB, MimePDF:
		return m
	}
	return ""
}

func normalizeMimeType(mimeType, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch clean {
	case MimeEPUB, MimePDF:
		return clean
	}

	if len(data) > 0 {
		if bytes.HasPrefix(data, []byte("%PDF-")) {
			return MimePDF
		}
		if isEPUBArchive(data) {
			return MimeEPUB
		}
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".epub":
		if len(data) == 0 {
			return MimeEPUB
		}
	case ".pdf":
		if len(data) == 0 {
			return MimePDF
		}
	}
	return clean
}

func isEPUBArchive(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "META-INF/container.xml" {
			return true
		}
	}
	return false
}

func outputName(sourceName, targetLanguage, ext string) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" || base == "." {
		base = "document"
	}
	lang := strings.ToLower(strings.TrimSpace(targetLanguage))
	if lang == "" {
		return base + ext
	}
	return base + "." + lang + ext
}
