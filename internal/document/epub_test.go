package document

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="text/chapter%201.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="cover"/>
    <itemref idref="ch2"/>
    <itemref idref="ch1"/>
  </spine>
</package>`

func chapterXHTML(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + title + `</title></head>
<body class="chapter">` + body + `</body></html>`
}

func buildTestEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("create mimetype: %v", err)
	}
	_, _ = w.Write([]byte(MimeEPUB))

	entries := []struct{ name, body string }{
		{"META-INF/container.xml", testContainer},
		{"OEBPS/content.opf", testOPF},
		{"OEBPS/cover.xhtml", chapterXHTML("Cover", `<img src="cover.jpg"/>`)},
		{"OEBPS/text/chapter 1.xhtml", chapterXHTML("One", `<h1>The Beginning</h1><p>It was a dark night.</p>`)},
		{"OEBPS/text/chapter2.xhtml", chapterXHTML("Two", `<p>Prologue &amp; more.</p>`)},
		{"OEBPS/style.css", "body { margin: 0; }"},
	}
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func readZipEntry(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		raw, _ := io.ReadAll(rc)
		return string(raw)
	}
	t.Fatalf("entry %s not found", name)
	return ""
}

func TestEPUBExtractFollowsSpineAndSkipsEmptyChapters(t *testing.T) {
	units, err := EPUB{}.Extract(context.Background(), buildTestEPUB(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %+v", len(units), units)
	}
	if units[0].ID != "ch2" || units[1].ID != "ch1" {
		t.Fatalf("expected spine order ch2, ch1; got %s, %s", units[0].ID, units[1].ID)
	}
	if units[1].Title != "The Beginning" {
		t.Fatalf("expected heading title, got %q", units[1].Title)
	}
	if units[0].Title != "Two" {
		t.Fatalf("expected <title> fallback, got %q", units[0].Title)
	}
	if units[1].Content != `<h1>The Beginning</h1><p>It was a dark night.</p>` {
		t.Fatalf("unexpected body content %q", units[1].Content)
	}
}

func TestEPUBReconstructIdentityIsByteIdentical(t *testing.T) {
	original := buildTestEPUB(t)
	units, err := EPUB{}.Extract(context.Background(), original)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	translated := make([]TranslatedUnit, 0, len(units))
	for _, u := range units {
		translated = append(translated, TranslatedUnit(u))
	}

	out, err := EPUB{}.Reconstruct(context.Background(), original, translated)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("identity reconstruction changed the archive")
	}
}

func TestEPUBReconstructReplacesOnlyTranslatedBodies(t *testing.T) {
	original := buildTestEPUB(t)
	out, err := EPUB{}.Reconstruct(context.Background(), original, []TranslatedUnit{
		{ID: "ch1", Title: "Le début", Content: `<h1>Le début</h1><p>C'était une nuit sombre.</p>`},
		{ID: "unknown", Content: "ignored"},
	})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	ch1 := readZipEntry(t, out, "OEBPS/text/chapter 1.xhtml")
	want := chapterXHTML("One", `<h1>Le début</h1><p>C'était une nuit sombre.</p>`)
	if ch1 != want {
		t.Fatalf("unexpected chapter content:\n%s", ch1)
	}
	if got := readZipEntry(t, out, "OEBPS/text/chapter2.xhtml"); got != chapterXHTML("Two", `<p>Prologue &amp; more.</p>`) {
		t.Fatalf("untranslated chapter changed: %s", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if zr.File[0].Name != "mimetype" || zr.File[0].Method != zip.Store {
		t.Fatalf("mimetype must stay first and stored, got %s method=%d", zr.File[0].Name, zr.File[0].Method)
	}

	units, err := EPUB{}.Extract(context.Background(), out)
	if err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	if units[1].Title != "Le début" {
		t.Fatalf("expected translated title after re-extract, got %q", units[1].Title)
	}
}

func TestEPUBExtractErrors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		want string
	}{
		{
			name: "not a zip",
			data: func(t *testing.T) []byte { return []byte("plain text") },
			want: "open epub archive",
		},
		{
			name: "missing container",
			data: func(t *testing.T) []byte {
				var buf bytes.Buffer
				zw := zip.NewWriter(&buf)
				w, _ := zw.Create("mimetype")
				_, _ = w.Write([]byte(MimeEPUB))
				_ = zw.Close()
				return buf.Bytes()
			},
			want: "container.xml not found",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := EPUB{}.Extract(context.Background(), tt.data(t))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEPUBExtractNoUnits(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf": `<package><manifest><item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/></manifest>
<spine><itemref idref="cover"/></spine></package>`,
		"OEBPS/cover.xhtml": chapterXHTML("Cover", `<img src="c.jpg"/>`),
	} {
		w, _ := zw.Create(name)
		_, _ = w.Write([]byte(body))
	}
	_ = zw.Close()

	_, err := EPUB{}.Extract(context.Background(), buf.Bytes())
	if !errors.Is(err, ErrNoUnits) {
		t.Fatalf("expected ErrNoUnits, got %v", err)
	}
}
