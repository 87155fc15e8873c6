package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// container.xml points at the OPF package document.
type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// OPF package document: metadata + manifest + spine.
type opfPackage struct {
	Metadata struct {
		Title    []string `xml:"title"`
		Creator  []string `xml:"creator"`
		Language []string `xml:"language"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID   string `xml:"id,attr"`
			Href string `xml:"href,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// NCX (EPUB2) table of contents.
type ncxDoc struct {
	NavMap struct {
		NavPoints []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	NavLabel struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
}

func extractEPUB(srcPath string, raw []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Result{}, newErr(Corrupted, srcPath, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	rootPath, err := epubRootfile(files)
	if err != nil {
		return Result{}, newErr(Corrupted, srcPath, err)
	}
	opfBytes, err := readZipFile(files, rootPath)
	if err != nil {
		return Result{}, newErr(Corrupted, srcPath, err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(opfBytes, &pkg); err != nil {
		return Result{}, newErr(Corrupted, srcPath, fmt.Errorf("parse OPF: %w", err))
	}
	opfDir := path.Dir(rootPath)

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = path.Join(opfDir, item.Href)
	}

	titlesByHref := ncxTitles(files, opfDir, hrefByID, pkg.Spine.TOC)

	var sections []Section
	order := 0
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		content, err := readZipFile(files, href)
		if err != nil {
			continue // skip unreadable spine items rather than abort the whole book
		}
		text, h1 := htmlToSectionText(content)
		text = normalizeWhitespace(text)
		if !hasMinContent(text) {
			continue
		}
		title := titlesByHref[href]
		if title == "" {
			title = h1
		}
		if title == "" {
			title = strings.TrimSuffix(path.Base(href), path.Ext(href))
		}
		sections = append(sections, Section{Title: title, Text: text, Order: order})
		order++
	}

	meta := Metadata{
		Title:    first(pkg.Metadata.Title),
		Authors:  pkg.Metadata.Creator,
		Language: first(pkg.Metadata.Language),
	}
	return Result{
		Sections: sections,
		Metadata: meta,
		Hints:    Hints{HasTOC: len(titlesByHref) > 0},
	}, nil
}

func epubRootfile(files map[string]*zip.File) (string, error) {
	b, err := readZipFile(files, "META-INF/container.xml")
	if err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}
	var c epubContainer
	if err := xml.Unmarshal(b, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 {
		return "", fmt.Errorf("no rootfile declared in container.xml")
	}
	return c.Rootfiles[0].FullPath, nil
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("missing zip entry %q", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ncxTitles resolves spine-item href -> NCX/NAV label, if a TOC is present.
func ncxTitles(files map[string]*zip.File, opfDir string, hrefByID map[string]string, tocID string) map[string]string {
	out := make(map[string]string)
	if tocID != "" {
		if href, ok := hrefByID[tocID]; ok {
			if b, err := readZipFile(files, href); err == nil {
				var ncx ncxDoc
				if xml.Unmarshal(b, &ncx) == nil {
					for _, np := range flattenNavPoints(ncx.NavMap.NavPoints) {
						src := path.Join(path.Dir(href), strings.SplitN(np.Content.Src, "#", 2)[0])
						out[src] = strings.TrimSpace(np.NavLabel.Text)
					}
					return out
				}
			}
		}
	}
	// EPUB3 nav document: any manifest item named *nav*.xhtml.
	for _, href := range hrefByID {
		if !strings.Contains(strings.ToLower(href), "nav") {
			continue
		}
		b, err := readZipFile(files, href)
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
		if err != nil {
			continue
		}
		doc.Find("nav li a[href]").Each(func(_ int, s *goquery.Selection) {
			target, _ := s.Attr("href")
			target = path.Join(path.Dir(href), strings.SplitN(target, "#", 2)[0])
			out[target] = strings.TrimSpace(s.Text())
		})
		if len(out) > 0 {
			return out
		}
	}
	return out
}

func flattenNavPoints(points []ncxNavPoint) []ncxNavPoint {
	return points // nested <navPoint> children are rare in practice; top-level is sufficient
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// htmlToSectionText renders htmlBytes to Markdown, keeping "# "/"## " heading
// markers the Chapter Detector recognizes as boundaries. Returns the body
// text and the first h1 found (used as a title fallback).
func htmlToSectionText(htmlBytes []byte) (string, string) {
	md, err := htmltomarkdown.ConvertString(string(htmlBytes))
	if err != nil {
		doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
		if derr != nil {
			return string(htmlBytes), ""
		}
		doc.Find("script,style").Remove()
		return doc.Text(), ""
	}
	return md, firstH1Line(md)
}

// firstH1Line returns the text of the first "# " heading in markdown, if any.
func firstH1Line(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
