// Package epub implements the structural EPUB parse described in
// spec §6: container.xml → OPF manifest/spine → table of contents
// (EPUB-3 nav or EPUB-2 NCX), with strict zip-path sanitisation.
//
// Grounded on the teacher's archive-reading idiom (zip.NewReader over
// an in-memory buffer, a name→bytes map read up front) seen in
// other_examples' EPUB-adjacent kojirou epub packaging file, adapted
// from an EPUB *writer* to a *reader*; XML parsing follows the
// teacher's internal/pmtiles header/directory decoding style (small,
// single-purpose decode functions, no generic unmarshal-everything
// structs).
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/foliotile/tilecore/internal/docerr"
)

// ManifestItem is one <item> of the OPF manifest.
type ManifestItem struct {
	ID         string
	Href       string // sanitised, joined to the OPF base path
	MediaType  string
	Properties string
}

// SpineItem is one ordered reading-order entry, resolved from the
// OPF's <spine> against its manifest.
type SpineItem struct {
	ID   string
	Href string
}

// TocEntry is one node of the table of contents, from either an
// EPUB-3 nav document or an EPUB-2 NCX.
type TocEntry struct {
	Title    string
	Href     string
	Children []TocEntry
}

// Package is the parsed structure of one EPUB archive.
type Package struct {
	OPFPath  string
	Manifest map[string]ManifestItem
	Spine    []SpineItem
	TOC      []TocEntry
}

// Parse reads the three well-known entries of an EPUB zip archive and
// returns its structure. zipData is the whole archive in memory.
func Parse(zipData []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, "not a valid zip archive", err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if err := checkZipEntryPath(f.Name); err != nil {
			return nil, err
		}
		entries[f.Name] = f
	}

	opfPath, err := findOPFPath(entries)
	if err != nil {
		return nil, err
	}

	opfData, err := readEntry(entries, opfPath)
	if err != nil {
		return nil, err
	}
	base := path.Dir(opfPath)

	manifest, spineRefs, navItem, err := parseOPF(opfData)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]ManifestItem, len(manifest))
	for id, item := range manifest {
		href, err := sanitizeJoin(base, item.Href)
		if err != nil {
			return nil, err
		}
		item.Href = href
		resolved[id] = item
	}

	var spine []SpineItem
	for _, idref := range spineRefs {
		item, ok := resolved[idref]
		if !ok {
			continue
		}
		if !isHTMLMediaType(item.MediaType) {
			continue
		}
		spine = append(spine, SpineItem{ID: idref, Href: item.Href})
	}

	toc, err := parseTOC(entries, resolved, navItem)
	if err != nil {
		return nil, err
	}

	return &Package{OPFPath: opfPath, Manifest: resolved, Spine: spine, TOC: toc}, nil
}

func isHTMLMediaType(mt string) bool {
	return mt == "application/xhtml+xml" || mt == "text/html"
}

func readEntry(entries map[string]*zip.File, name string) ([]byte, error) {
	f, ok := entries[name]
	if !ok {
		return nil, docerr.New(docerr.KindInvalidPath, fmt.Sprintf("archive missing %q", name))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, fmt.Sprintf("opening %q", name), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, fmt.Sprintf("reading %q", name), err)
	}
	return data, nil
}

// containerXML mirrors META-INF/container.xml's shape, extracting only
// the OPF path from the first rootfile.
type containerXML struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath string `xml:"full-path,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

func findOPFPath(entries map[string]*zip.File) (string, error) {
	data, err := readEntry(entries, "META-INF/container.xml")
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", docerr.Wrap(docerr.KindDecoderError, "parsing container.xml", err)
	}
	if len(c.Rootfiles.Rootfile) == 0 || c.Rootfiles.Rootfile[0].FullPath == "" {
		return "", docerr.New(docerr.KindDecoderError, "container.xml has no rootfile")
	}
	return sanitizePath(c.Rootfiles.Rootfile[0].FullPath)
}

// opfXML mirrors the subset of an OPF package document needed here:
// the manifest's items and the spine's ordered itemrefs.
type opfXML struct {
	Manifest struct {
		Item []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Itemref []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func parseOPF(data []byte) (manifest map[string]ManifestItem, spineRefs []string, navID string, err error) {
	var doc opfXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, "", docerr.Wrap(docerr.KindDecoderError, "parsing OPF package document", err)
	}

	manifest = make(map[string]ManifestItem, len(doc.Manifest.Item))
	for _, it := range doc.Manifest.Item {
		manifest[it.ID] = ManifestItem{ID: it.ID, Href: it.Href, MediaType: it.MediaType, Properties: it.Properties}
		if navID == "" && hasProperty(it.Properties, "nav") {
			navID = it.ID
		}
	}
	for _, ref := range doc.Spine.Itemref {
		spineRefs = append(spineRefs, ref.IDRef)
	}
	return manifest, spineRefs, navID, nil
}

func hasProperty(properties, want string) bool {
	for _, p := range strings.Fields(properties) {
		if p == want {
			return true
		}
	}
	return false
}

func parseTOC(entries map[string]*zip.File, manifest map[string]ManifestItem, navID string) ([]TocEntry, error) {
	if navID != "" {
		item := manifest[navID]
		data, err := readEntry(entries, item.Href)
		if err != nil {
			return nil, err
		}
		return parseNav(data)
	}

	for _, item := range manifest {
		if item.MediaType == "application/x-dtbncx+xml" {
			data, err := readEntry(entries, item.Href)
			if err != nil {
				return nil, err
			}
			return parseNCX(data)
		}
	}

	return nil, nil
}

// navHTML mirrors the handful of EPUB-3 nav document elements needed
// to extract the toc nav's ordered list of links.
type navHTML struct {
	Body struct {
		Nav []struct {
			Type string `xml:"type,attr"`
			OL   navOL  `xml:"ol"`
		} `xml:"nav"`
	} `xml:"body"`
}

type navOL struct {
	LI []struct {
		A  navLink `xml:"a"`
		OL *navOL  `xml:"ol"`
	} `xml:"li"`
}

type navLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

func parseNav(data []byte) ([]TocEntry, error) {
	var doc navHTML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, "parsing EPUB-3 nav document", err)
	}
	for _, n := range doc.Body.Nav {
		if n.Type == "toc" || n.Type == "" {
			return convertNavOL(n.OL), nil
		}
	}
	return nil, nil
}

func convertNavOL(ol navOL) []TocEntry {
	var out []TocEntry
	for _, li := range ol.LI {
		entry := TocEntry{Title: strings.TrimSpace(li.A.Text), Href: li.A.Href}
		if li.OL != nil {
			entry.Children = convertNavOL(*li.OL)
		}
		out = append(out, entry)
	}
	return out
}

// ncxXML mirrors an EPUB-2 NCX document's navMap of nested navPoints.
type ncxXML struct {
	NavMap struct {
		NavPoint []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	NavLabel struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	NavPoint []ncxNavPoint `xml:"navPoint"`
}

func parseNCX(data []byte) ([]TocEntry, error) {
	var doc ncxXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, "parsing EPUB-2 NCX document", err)
	}
	return convertNavPoints(doc.NavMap.NavPoint), nil
}

func convertNavPoints(points []ncxNavPoint) []TocEntry {
	var out []TocEntry
	for _, p := range points {
		entry := TocEntry{Title: strings.TrimSpace(p.NavLabel.Text), Href: p.Content.Src}
		if len(p.NavPoint) > 0 {
			entry.Children = convertNavPoints(p.NavPoint)
		}
		out = append(out, entry)
	}
	return out
}

// ReadChapter returns the exact bytes of the zip entry at archivePath,
// re-validating the path rather than trusting a caller-supplied
// SpineItem.Href blindly, since that value may have originated outside
// a call to Parse.
func ReadChapter(zipData []byte, archivePath string) ([]byte, error) {
	clean, err := sanitizePath(archivePath)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindDecoderError, "not a valid zip archive", err)
	}
	for _, f := range zr.File {
		if err := checkZipEntryPath(f.Name); err != nil {
			return nil, err
		}
		if f.Name != clean {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, docerr.Wrap(docerr.KindDecoderError, fmt.Sprintf("opening %q", clean), err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, docerr.Wrap(docerr.KindDecoderError, fmt.Sprintf("reading %q", clean), err)
		}
		return data, nil
	}
	return nil, docerr.New(docerr.KindInvalidPath, fmt.Sprintf("archive missing %q", clean))
}

// sanitizePath percent-decodes raw and rejects any path containing
// "..", starting with "/", or containing NUL, on both the decoded and
// original forms, per spec §6.
func sanitizePath(raw string) (string, error) {
	if err := checkPathComponents(raw); err != nil {
		return "", err
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", docerr.Wrap(docerr.KindInvalidPath, fmt.Sprintf("malformed percent-encoding in %q", raw), err)
	}
	if err := checkPathComponents(decoded); err != nil {
		return "", err
	}
	return decoded, nil
}

func checkPathComponents(p string) error {
	if strings.ContainsRune(p, 0) {
		return docerr.New(docerr.KindInvalidPath, fmt.Sprintf("path %q contains a NUL byte", p))
	}
	if strings.HasPrefix(p, "/") {
		return docerr.New(docerr.KindInvalidPath, fmt.Sprintf("path %q is absolute", p))
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return docerr.New(docerr.KindInvalidPath, fmt.Sprintf("path %q escapes the archive root", p))
		}
	}
	return nil
}

// sanitizeJoin sanitises href, then joins it to base (the OPF's
// directory), producing the full archive-relative path.
func sanitizeJoin(base, href string) (string, error) {
	clean, err := sanitizePath(href)
	if err != nil {
		return "", err
	}
	joined := path.Join(base, clean)
	if err := checkPathComponents(joined); err != nil {
		return "", err
	}
	return joined, nil
}

// checkZipEntryPath rejects a raw zip entry name whose normalised path
// would escape the archive root, guarding against a crafted archive
// with absolute or ".."-laden entry names.
func checkZipEntryPath(name string) error {
	return checkPathComponents(name)
}
