package parser

import (
	"bytes"
	"fmt"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Jackpot is the parsed content of an aggregator page.
type Jackpot struct {
	Amounts map[string]int64
	Sorteo  *int
	Fecha   *string
}

// ParseJackpotTable reads the first table of an aggregator page as
// category/amount rows. Rows whose value carries no digits are skipped.
// The upcoming draw number and date are picked up from the page text when
// present.
func ParseJackpotTable(body []byte) (Jackpot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Jackpot{}, fmt.Errorf("parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return Jackpot{}, fmt.Errorf("jackpot table not found: %w", polla.ErrNoData)
	}
	amounts := map[string]int64{}
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := rowCells(tr)
		if len(cells) < 2 {
			return
		}
		key := normalizeSpaces(cells[0])
		if key == "" || !hasDigit(cells[1]) {
			return
		}
		amounts[key] = parseDigits(cells[1])
	})
	if len(amounts) == 0 {
		return Jackpot{}, fmt.Errorf("jackpot table has no amounts: %w", polla.ErrNoData)
	}
	text := spacedText(doc.Find("body"))
	return Jackpot{
		Amounts: amounts,
		Sorteo:  firstInt(sorteoLong, text),
		Fecha:   ExtractSpanishDate(text),
	}, nil
}

func hasDigit(v string) bool {
	for _, r := range v {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
