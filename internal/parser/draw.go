// Package parser extracts draw results and jackpot estimates from publisher
// HTML using goquery.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

var (
	paragraphRow = regexp.MustCompile(`(?i)(?P<categoria>.+?):\s*\$?(?P<premio>[0-9\.]+)(?:\s+pesos)?(?:\s+(?P<ganadores>\d+))?`)
	inlineRow    = regexp.MustCompile(`(?i)([A-Za-z\s\x{00C0}-\x{017F}\$\d\(\)\+]+?)\s*\$([\d\.]+)\s*(\d+)`)
	sorteoAny    = regexp.MustCompile(`(?i)sorteo\s+(\d+)`)
	sorteoLong   = regexp.MustCompile(`(?i)sorteo\s+(\d{4,})`)
)

const siblingScanLimit = 10

// ParseT13Draw reads a draw article laid out the T13 way: a heading that
// mentions "ganadores" followed by a prize table, or by one paragraph per
// category when the table is missing.
func ParseT13Draw(body []byte) (polla.DrawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return polla.DrawRecord{}, fmt.Errorf("parse html: %w", err)
	}
	rows, found := winnersSection(doc)
	if !found {
		return polla.DrawRecord{}, fmt.Errorf("winners section not found: %w", polla.ErrNoData)
	}
	rec := drawMetadata(doc, sorteoAny)
	rec.Categories = rows
	if len(rows) == 0 {
		return rec, fmt.Errorf("winners section has no prize rows: %w", polla.ErrNoData)
	}
	return validated(rec)
}

// ParseH24Draw reads a 24horas article. Those pages sometimes embed the T13
// layout, so that is tried first; otherwise the first table on the page is
// used, then "$amount winners" runs inside paragraphs.
func ParseH24Draw(body []byte) (polla.DrawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return polla.DrawRecord{}, fmt.Errorf("parse html: %w", err)
	}
	rec := drawMetadata(doc, sorteoLong)
	rows, _ := winnersSection(doc)
	if len(rows) == 0 {
		rows = firstTableRows(doc)
	}
	if len(rows) == 0 {
		rows = inlineParagraphRows(doc)
	}
	rec.Categories = rows
	if len(rows) == 0 {
		return rec, fmt.Errorf("no prize rows: %w", polla.ErrNoData)
	}
	return validated(rec)
}

// validated runs rec.Validate. Invalid amounts are marked permanent since a
// refetch of the same page yields the same numbers.
func validated(rec polla.DrawRecord) (polla.DrawRecord, error) {
	err := rec.Validate()
	if errors.Is(err, polla.ErrInvalidAmount) {
		return rec, polla.Permanent(err)
	}
	return rec, err
}

func drawMetadata(doc *goquery.Document, sorteoRe *regexp.Regexp) polla.DrawRecord {
	text := spacedText(doc.Find("body"))
	if text == "" {
		text = spacedText(doc.Selection)
	}
	return polla.DrawRecord{
		Sorteo: firstInt(sorteoRe, text),
		Fecha:  ExtractSpanishDate(text),
		Title:  strings.TrimSpace(doc.Find("title").First().Text()),
	}
}

// winnersSection locates the first h2-h4 mentioning "ganadores" and parses
// the next table in document order, falling back to sibling paragraphs.
func winnersSection(doc *goquery.Document) (map[string]polla.CategoryAmount, bool) {
	var (
		heading *goquery.Selection
		table   *goquery.Selection
	)
	doc.Find("h2, h3, h4, table").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if heading == nil {
			if goquery.NodeName(s) != "table" && strings.Contains(strings.ToLower(spacedText(s)), "ganadores") {
				heading = s
			}
			return true
		}
		if goquery.NodeName(s) == "table" {
			table = s
			return false
		}
		return true
	})
	if heading == nil {
		return nil, false
	}
	rows := map[string]polla.CategoryAmount{}
	if table != nil {
		rows = tableRows(table.Find("tr"), isT13Header)
	}
	if len(rows) == 0 {
		rows = paragraphRows(heading)
	}
	return rows, true
}

func isT13Header(cells []string) bool {
	return strings.Contains(strings.ToLower(cells[0]), "categor") &&
		strings.Contains(strings.ToLower(cells[1]), "premio")
}

func tableRows(rows *goquery.Selection, isHeader func([]string) bool) map[string]polla.CategoryAmount {
	out := map[string]polla.CategoryAmount{}
	rows.Each(func(_ int, tr *goquery.Selection) {
		cells := rowCells(tr)
		if len(cells) < 3 || isHeader(cells) {
			return
		}
		categoria := normalizeSpaces(cells[0])
		if categoria == "" {
			return
		}
		out[categoria] = polla.CategoryAmount{
			PremioCLP: parseDigits(cells[1]),
			Ganadores: parseDigits(cells[2]),
		}
	})
	return out
}

func rowCells(tr *goquery.Selection) []string {
	var cells []string
	tr.Find("td, th").Each(func(_ int, c *goquery.Selection) {
		cells = append(cells, spacedText(c))
	})
	return cells
}

func paragraphRows(heading *goquery.Selection) map[string]polla.CategoryAmount {
	out := map[string]polla.CategoryAmount{}
	siblings := heading.NextAll()
	siblings.Slice(0, min(siblingScanLimit, siblings.Length())).Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "p", "div", "li":
		default:
			return
		}
		m := paragraphRow.FindStringSubmatch(normalizeSpaces(spacedText(s)))
		if m == nil {
			return
		}
		categoria := normalizeSpaces(m[paragraphRow.SubexpIndex("categoria")])
		out[categoria] = polla.CategoryAmount{
			PremioCLP: parseDigits(m[paragraphRow.SubexpIndex("premio")]),
			Ganadores: parseDigits(m[paragraphRow.SubexpIndex("ganadores")]),
		}
	})
	return out
}

func firstTableRows(doc *goquery.Document) map[string]polla.CategoryAmount {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil
	}
	rows := table.Find("tr")
	if strings.Contains(rows.First().Text(), "Categor") {
		rows = rows.Slice(1, rows.Length())
	}
	return tableRows(rows, func([]string) bool { return false })
}

func inlineParagraphRows(doc *goquery.Document) map[string]polla.CategoryAmount {
	var block []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		block = append(block, spacedText(p))
	})
	out := map[string]polla.CategoryAmount{}
	for _, m := range inlineRow.FindAllStringSubmatch(strings.Join(block, " "), -1) {
		categoria := normalizeSpaces(m[1])
		if categoria == "" {
			continue
		}
		out[categoria] = polla.CategoryAmount{PremioCLP: parseDigits(m[2]), Ganadores: parseDigits(m[3])}
	}
	return out
}

// DiscoverH24Links returns up to limit absolute result-article URLs from a
// 24horas tag index, in page order and without duplicates.
func DiscoverH24Links(body []byte, indexURL string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}
	seen := map[string]struct{}{}
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		href, _ := a.Attr("href")
		if !strings.Contains(href, "resultados-loto-sorteo") {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		return true
	})
	return out, nil
}
