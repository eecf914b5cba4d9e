package upstream

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/dslipak/pdf"
)

// minWordOverlap is the fraction of a segment's words that must appear on a
// page before the page is attributed to the segment.
const minWordOverlap = 0.3

// PageIndex maps text back to the PDF page it came from. Built once per
// document and cached by the build pipeline.
type PageIndex struct {
	pageWords []map[string]bool
	pageCount int
}

// pageIndexCache memoizes indexes by file path within one process.
var pageIndexCache sync.Map

// BuildPageIndex extracts per-page text from a PDF and prepares word sets
// for overlap matching.
func BuildPageIndex(path string) (*PageIndex, error) {
	if cached, ok := pageIndexCache.Load(path); ok {
		return cached.(*PageIndex), nil
	}

	reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	idx := &PageIndex{pageCount: total, pageWords: make([]map[string]bool, 0, total)}
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			idx.pageWords = append(idx.pageWords, map[string]bool{})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			idx.pageWords = append(idx.pageWords, map[string]bool{})
			continue
		}
		idx.pageWords = append(idx.pageWords, wordSet(text))
	}

	pageIndexCache.Store(path, idx)
	return idx, nil
}

// PageCount returns the number of pages in the indexed PDF.
func (x *PageIndex) PageCount() int {
	return x.pageCount
}

// FindPage returns the 1-based page whose text best overlaps the given
// segment, or 0 when no page reaches the overlap threshold.
func (x *PageIndex) FindPage(text string) int {
	words := wordSet(text)
	if len(words) == 0 {
		return 0
	}

	bestPage := 0
	bestOverlap := 0.0
	for i, pw := range x.pageWords {
		if len(pw) == 0 {
			continue
		}
		matched := 0
		for w := range words {
			if pw[w] {
				matched++
			}
		}
		overlap := float64(matched) / float64(len(words))
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestPage = i + 1
		}
	}

	if bestOverlap < minWordOverlap {
		return 0
	}
	return bestPage
}

// ProportionalPage estimates a segment's page from its position when text
// matching fails, assuming segments are spread evenly through the document.
func (x *PageIndex) ProportionalPage(segmentIndex, segmentTotal int) int {
	if x.pageCount == 0 || segmentTotal <= 0 {
		return 0
	}
	page := segmentIndex*x.pageCount/segmentTotal + 1
	if page > x.pageCount {
		page = x.pageCount
	}
	return page
}

// ExtractPageTexts returns the plain text of each page, 0-indexed. Pages
// that cannot be read come back empty.
func ExtractPageTexts(path string) ([]string, error) {
	reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// wordSet lowercases and splits text into a set of words of length >= 2,
// keeping CJK-friendly tokenization by splitting on anything that is not a
// letter or digit.
func wordSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 2 {
			set[w] = true
		}
	}
	return set
}
