package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// EPUB treats every spine document with visible text as one unit. The unit
// content is the inner HTML of the chapter body.
type EPUB struct{}

type epubContainer struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

type epubChapter struct {
	id        string
	path      string
	raw       []byte
	bodyStart int
	bodyEnd   int
}

func (c epubChapter) body() string {
	return string(c.raw[c.bodyStart:c.bodyEnd])
}

var (
	bodyOpenRe  = regexp.MustCompile(`(?is)<body[^>]*>`)
	bodyCloseRe = regexp.MustCompile(`(?is)</body\s*>`)
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingRe   = regexp.MustCompile(`(?is)<h[1-3][^>]*>(.*?)</h[1-3]>`)
	tagRe       = regexp.MustCompile(`(?s)<[^>]*>`)
)

func (EPUB) Name() string           { return "epub" }
func (EPUB) OutputMimeType() string { return MimeEPUB }

func (EPUB) OutputFileName(sourceName, targetLanguage string) string {
	return outputName(sourceName, targetLanguage, ".epub")
}

// Extract returns one unit per spine chapter in reading order.
func (EPUB) Extract(ctx context.Context, data []byte) ([]Unit, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "open epub archive")
	}
	chapters, err := readChapters(ctx, zr)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(chapters))
	for i, ch := range chapters {
		body := ch.body()
		if strings.TrimSpace(visibleText(body)) == "" {
			continue
		}
		units = append(units, Unit{
			ID:      ch.id,
			Title:   chapterTitle(ch.raw, i+1),
			Content: body,
		})
	}
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	return units, nil
}

// Reconstruct splices translated bodies back into their chapter files. All
// other archive entries are copied without recompression, and the original
// bytes are returned untouched when no chapter changed.
func (EPUB) Reconstruct(ctx context.Context, original []byte, translated []TranslatedUnit) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		return nil, errors.Wrap(err, "open epub archive")
	}
	chapters, err := readChapters(ctx, zr)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]TranslatedUnit, len(translated))
	for _, t := range translated {
		byID[t.ID] = t
	}

	replaced := make(map[string][]byte)
	for _, ch := range chapters {
		t, ok := byID[ch.id]
		if !ok || t.Content == ch.body() {
			continue
		}
		var buf bytes.Buffer
		buf.Grow(len(ch.raw) - (ch.bodyEnd - ch.bodyStart) + len(t.Content))
		buf.Write(ch.raw[:ch.bodyStart])
		buf.WriteString(t.Content)
		buf.Write(ch.raw[ch.bodyEnd:])
		replaced[ch.path] = buf.Bytes()
	}
	if len(replaced) == 0 {
		return original, nil
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if content, ok := replaced[f.Name]; ok {
			w, err := zw.CreateHeader(&zip.FileHeader{
				Name:     f.Name,
				Method:   f.Method,
				Modified: f.Modified,
				Comment:  f.Comment,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "create entry %s", f.Name)
			}
			if _, err := w.Write(content); err != nil {
				return nil, errors.Wrapf(err, "write entry %s", f.Name)
			}
			continue
		}
		if err := copyRaw(zw, f); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close epub archive")
	}
	return out.Bytes(), nil
}

func copyRaw(zw *zip.Writer, f *zip.File) error {
	header := f.FileHeader
	w, err := zw.CreateRaw(&header)
	if err != nil {
		return errors.Wrapf(err, "create raw entry %s", f.Name)
	}
	rc, err := f.OpenRaw()
	if err != nil {
		return errors.Wrapf(err, "open raw entry %s", f.Name)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return errors.Wrapf(err, "copy entry %s", f.Name)
	}
	return nil
}

func readChapters(ctx context.Context, zr *zip.Reader) ([]epubChapter, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := decodeXMLEntry(files, "META-INF/container.xml", &container); err != nil {
		return nil, err
	}
	if len(container.RootFiles) == 0 || container.RootFiles[0].FullPath == "" {
		return nil, errors.New("no rootfile found in container.xml")
	}
	opfPath := container.RootFiles[0].FullPath

	var pkg epubPackage
	if err := decodeXMLEntry(files, opfPath, &pkg); err != nil {
		return nil, err
	}

	manifest := make(map[string]int, len(pkg.Manifest))
	for i, item := range pkg.Manifest {
		manifest[item.ID] = i
	}

	opfDir := path.Dir(opfPath)
	chapters := make([]epubChapter, 0, len(pkg.Spine))
	seen := make(map[string]bool)
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx, ok := manifest[ref.IDRef]
		if !ok || seen[ref.IDRef] {
			continue
		}
		item := pkg.Manifest[idx]
		if item.MediaType != MimeXHTML && item.MediaType != "text/html" {
			continue
		}
		seen[ref.IDRef] = true

		entryPath := resolveHref(opfDir, item.Href)
		f, ok := files[entryPath]
		if !ok {
			return nil, errors.Newf("spine item %s missing from archive: %s", item.ID, entryPath)
		}
		raw, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		start, end := bodyBounds(raw)
		chapters = append(chapters, epubChapter{
			id:        item.ID,
			path:      entryPath,
			raw:       raw,
			bodyStart: start,
			bodyEnd:   end,
		})
	}
	return chapters, nil
}

func decodeXMLEntry(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return errors.Newf("%s not found in epub", name)
	}
	raw, err := readEntry(f)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "parse %s", name)
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.Name)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Name)
	}
	return raw, nil
}

func resolveHref(dir, href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if dir == "." || dir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(dir, href))
}

// bodyBounds returns the byte range of the inner body. Documents without a
// body element are treated as all body.
func bodyBounds(raw []byte) (int, int) {
	open := bodyOpenRe.FindIndex(raw)
	if open == nil {
		return 0, len(raw)
	}
	closes := bodyCloseRe.FindAllIndex(raw[open[1]:], -1)
	if len(closes) == 0 {
		return open[1], len(raw)
	}
	last := closes[len(closes)-1]
	return open[1], open[1] + last[0]
}

func chapterTitle(raw []byte, position int) string {
	for _, re := range []*regexp.Regexp{headingRe, titleRe} {
		if m := re.FindSubmatch(raw); m != nil {
			if title := strings.TrimSpace(visibleText(string(m[1]))); title != "" {
				return title
			}
		}
	}
	return fmt.Sprintf("Chapter %d", position)
}

func visibleText(markup string) string {
	text := tagRe.ReplaceAllString(markup, " ")
	return strings.Join(strings.Fields(html.UnescapeString(text)), " ")
}
