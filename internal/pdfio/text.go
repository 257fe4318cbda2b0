package pdfio

import (
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// ExtractPageTexts reads the embedded text layer of a PDF, one string
// per page in page order. Pages without extractable text yield empty
// strings; line structure is preserved so heading bands can be derived
// from the result.
func ExtractPageTexts(filename string) ([]string, error) {
	reader, err := pdf.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", filename, err)
	}

	totalPages := reader.NumPage()
	texts := make([]string, 0, totalPages)
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		texts = append(texts, extractPageText(reader, pageNum))
	}
	return texts, nil
}

// extractPageText pulls the text of a single page, preferring row
// structure and falling back to plain text.
func extractPageText(reader *pdf.Reader, pageNum int) string {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		var sb strings.Builder
		for i, row := range rows {
			if i > 0 {
				sb.WriteString("\n")
			}
			for j, text := range row.Content {
				if j > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text.S)
			}
		}
		return sb.String()
	}

	fonts := make(map[string]*pdf.Font)
	plainText, err := page.GetPlainText(fonts)
	if err != nil {
		return ""
	}
	return plainText
}

// HasText reports whether the PDF carries an embedded text layer with at
// least minChars non-whitespace characters in total. Scanned documents
// without a text layer go to cloud detection instead.
func HasText(filename string, minChars int) (bool, error) {
	texts, err := ExtractPageTexts(filename)
	if err != nil {
		return false, err
	}
	total := 0
	for _, text := range texts {
		for _, field := range strings.Fields(text) {
			total += len(field)
		}
		if total >= minChars {
			return true, nil
		}
	}
	return total >= minChars, nil
}
