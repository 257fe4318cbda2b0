package convert

import (
	"archive/zip"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wtNode matches <w:t>text</w:t> including attributed forms like
// <w:t xml:space="preserve">.
var wtNode = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

var overridePartName = []*regexp.Regexp{
	regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`),
	regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`),
}

// sniffDocxText pulls the visible text nodes out of a DOCX file without
// converting it. DOCX is a zip holding the OOXML body in
// word/document.xml (or wherever [Content_Types].xml points); reading
// <w:t> nodes directly works regardless of paragraph and run
// attributes that trip up lighter extractors.
func sniffDocxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("sniff docx: not a zip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	docPath := mainDocumentPath(&zr.Reader)

	docXML, err := readZipFile(&zr.Reader, docPath)
	if err != nil {
		return "", fmt.Errorf("sniff docx: %w", err)
	}

	parts := wtNode.FindAllStringSubmatch(string(docXML), -1)
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(p[1]))
	}
	return strings.TrimSpace(sb.String()), nil
}

// mainDocumentPath resolves the body part from [Content_Types].xml,
// falling back to the conventional word/document.xml.
func mainDocumentPath(zr *zip.Reader) string {
	content, err := readZipFile(zr, "[Content_Types].xml")
	if err != nil {
		return "word/document.xml"
	}
	for _, re := range overridePartName {
		if m := re.FindStringSubmatch(string(content)); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return "word/document.xml"
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
