package epub

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/foliotile/tilecore/internal/docerr"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zw.Create(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close: %v", err)
	}
	return buf.Bytes()
}

const container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const opf = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const navDoc = `<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
  <body>
    <nav epub:type="toc">
      <ol>
        <li><a href="chapter1.xhtml">Chapter One</a></li>
        <li><a href="chapter2.xhtml">Chapter Two</a>
          <ol>
            <li><a href="chapter2.xhtml#s1">Section One</a></li>
          </ol>
        </li>
      </ol>
    </nav>
  </body>
</html>`

func validEpubFiles() map[string]string {
	return map[string]string{
		"META-INF/container.xml": container,
		"OEBPS/content.opf":      opf,
		"OEBPS/nav.xhtml":        navDoc,
		"OEBPS/chapter1.xhtml":   "<html><body>one</body></html>",
		"OEBPS/chapter2.xhtml":   "<html><body>two</body></html>",
		"OEBPS/style.css":        "body{}",
	}
}

func TestParseValidEpub(t *testing.T) {
	data := buildZip(t, validEpubFiles())
	pkg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if pkg.OPFPath != "OEBPS/content.opf" {
		t.Errorf("OPFPath = %q, want OEBPS/content.opf", pkg.OPFPath)
	}
	if len(pkg.Spine) != 2 {
		t.Fatalf("len(Spine) = %d, want 2", len(pkg.Spine))
	}
	if pkg.Spine[0].Href != "OEBPS/chapter1.xhtml" || pkg.Spine[1].Href != "OEBPS/chapter2.xhtml" {
		t.Errorf("unexpected spine hrefs: %+v", pkg.Spine)
	}
	if len(pkg.TOC) != 2 {
		t.Fatalf("len(TOC) = %d, want 2", len(pkg.TOC))
	}
	if pkg.TOC[0].Title != "Chapter One" {
		t.Errorf("TOC[0].Title = %q, want Chapter One", pkg.TOC[0].Title)
	}
	if len(pkg.TOC[1].Children) != 1 || pkg.TOC[1].Children[0].Title != "Section One" {
		t.Errorf("expected nested TOC child Section One, got %+v", pkg.TOC[1])
	}
}

func TestParseMissingContainerFails(t *testing.T) {
	data := buildZip(t, map[string]string{"OEBPS/content.opf": opf})
	if _, err := Parse(data); !docerr.IsKind(err, docerr.KindInvalidPath) {
		t.Fatalf("expected invalid-path error for missing container.xml, got %v", err)
	}
}

func TestParseRejectsPathTraversalInContainer(t *testing.T) {
	malicious := `<?xml version="1.0"?>
<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="../../etc/passwd" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	data := buildZip(t, map[string]string{"META-INF/container.xml": malicious})
	_, err := Parse(data)
	if !docerr.IsKind(err, docerr.KindInvalidPath) {
		t.Fatalf("expected invalid-path error for traversal, got %v", err)
	}
}

func TestParseRejectsPercentEncodedTraversal(t *testing.T) {
	malicious := `<?xml version="1.0"?>
<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="%2e%2e/%2e%2e/etc/passwd" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	data := buildZip(t, map[string]string{"META-INF/container.xml": malicious})
	_, err := Parse(data)
	if !docerr.IsKind(err, docerr.KindInvalidPath) {
		t.Fatalf("expected invalid-path error for percent-encoded traversal, got %v", err)
	}
}

func TestParseNotAZipFails(t *testing.T) {
	if _, err := Parse([]byte("not a zip file")); !docerr.IsKind(err, docerr.KindDecoderError) {
		t.Fatalf("expected decoder error for non-zip input, got %v", err)
	}
}

func TestParseNCXFallbackWhenNoNav(t *testing.T) {
	const ncxOpf = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
  </spine>
</package>`
	const ncx = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/">
  <navMap>
    <navPoint>
      <navLabel><text>Chapter One</text></navLabel>
      <content src="chapter1.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": container,
		"OEBPS/content.opf":      ncxOpf,
		"OEBPS/toc.ncx":          ncx,
		"OEBPS/chapter1.xhtml":   "<html><body>one</body></html>",
	})

	pkg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(pkg.TOC) != 1 || pkg.TOC[0].Title != "Chapter One" {
		t.Fatalf("expected NCX-derived TOC with one Chapter One entry, got %+v", pkg.TOC)
	}
}
