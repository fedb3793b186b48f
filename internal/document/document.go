package document

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"

	"github.com/medcode-agent/backend/pkg/logger"

	"go.uber.org/zap"
)

// ErrExtraction marks an input that yields no usable clinical text.
var ErrExtraction = errors.New("document extraction failure")

var (
	nonPrintable   = regexp.MustCompile(`[^\x20-\x7E\n\r\t]`)
	horizontalRuns = regexp.MustCompile(`[ \t]+`)
	newlineRuns    = regexp.MustCompile(`\n{3,}`)
)

// Document is one clinical document: the raw input and its normalized form.
// Immutable once produced; one instance per pipeline run.
type Document struct {
	Raw           string
	Normalized    string
	SentenceCount int
	WordCount     int
}

// FromText builds a Document from already-extracted plain text.
func FromText(raw string) (*Document, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: no clinical text after normalization", ErrExtraction)
	}

	doc := &Document{
		Raw:        raw,
		Normalized: normalized,
	}
	doc.SentenceCount, doc.WordCount = textStats(normalized)

	return doc, nil
}

// FromHTML builds a Document from an HTML export of a clinical note,
// stripping markup and non-content elements before normalization.
func FromHTML(html string) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrExtraction, err)
	}

	gq.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := gq.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = gq.Text()
	}

	return FromText(text)
}

// Normalize removes non-ASCII and non-printable characters and collapses
// whitespace. Idempotent.
func Normalize(text string) string {
	text = nonPrintable.ReplaceAllString(text, "")
	text = horizontalRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// textStats counts sentences and word tokens for audit snapshots. Stats are
// advisory; a tokenizer failure degrades to zero counts.
func textStats(text string) (sentences, words int) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Warn("Failed to tokenize document for stats", zap.Error(err))
		return 0, 0
	}

	return len(doc.Sentences()), len(doc.Tokens())
}
