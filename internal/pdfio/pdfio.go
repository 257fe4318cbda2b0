// Package pdfio wraps the PDF toolchain used across the pipeline: page
// counting and validation, page-range splitting, embedded text layer
// extraction, and first-page preview rendering.
package pdfio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount returns the number of pages in a PDF file.
func PageCount(filename string) (int, error) {
	count, err := api.PageCountFile(filename)
	if err != nil {
		return 0, fmt.Errorf("count pages of %q: %w", filename, err)
	}
	return count, nil
}

// Validate checks that the file is a structurally sound PDF.
func Validate(filename string) error {
	if err := api.ValidateFile(filename, nil); err != nil {
		return fmt.Errorf("validate %q: %w", filename, err)
	}
	return nil
}

// ExtractPages writes a new PDF containing only the given 1-based pages,
// in document order. Used to split a multi-ballot document into
// per-ballot files once relevant pages are known.
func ExtractPages(inFile, outFile string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("extract pages from %q: no pages selected", inFile)
	}
	selected := make([]string, len(pages))
	for i, page := range pages {
		selected[i] = strconv.Itoa(page)
	}
	if err := api.TrimFile(inFile, outFile, selected, nil); err != nil {
		return fmt.Errorf("extract pages %v from %q: %w", pages, inFile, err)
	}
	return nil
}

// ParsePageRange parses a page range string like "1-5" or "1,3,5". An
// empty string means all pages and returns nil.
func ParsePageRange(pageRange string) ([]int, error) {
	if pageRange == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a
// range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
