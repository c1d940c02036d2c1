package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonDigitRe   = regexp.MustCompile(`[^0-9]`)
	spanishDate  = regexp.MustCompile(`(\d{1,2})\s+de\s+([a-záéíóúñ]+)\s+de\s+(\d{4})`)
)

var spanishMonths = map[string]int{
	"enero":      1,
	"febrero":    2,
	"marzo":      3,
	"abril":      4,
	"mayo":       5,
	"junio":      6,
	"julio":      7,
	"agosto":     8,
	"septiembre": 9,
	"setiembre":  9,
	"octubre":    10,
	"noviembre":  11,
	"diciembre":  12,
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u")

// spacedText joins the trimmed text nodes under s with single spaces, so
// adjacent cells and inline tags do not run together.
func spacedText(s *goquery.Selection) string {
	var parts []string
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if t := strings.TrimSpace(c.Text()); t != "" {
				parts = append(parts, t)
			}
		case "script", "style", "noscript", "#comment":
		default:
			if t := spacedText(c); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, " ")
}

func normalizeSpaces(v string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(v), " ")
}

// parseDigits keeps only ASCII digits; "$1.234.567" becomes 1234567 and
// text without digits becomes 0.
func parseDigits(v string) int64 {
	cleaned := nonDigitRe.ReplaceAllString(v, "")
	if cleaned == "" {
		return 0
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ExtractSpanishDate finds the first "30 de septiembre de 2025" style date
// in text and returns it as YYYY-MM-DD.
func ExtractSpanishDate(text string) *string {
	m := spanishDate.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	month, ok := spanishMonths[accentFolder.Replace(m[2])]
	if !ok || day < 1 || day > daysIn(month, year) {
		return nil
	}
	iso := strconv.Itoa(year) + "-" + pad2(month) + "-" + pad2(day)
	return &iso
}

func daysIn(month, year int) int {
	switch month {
	case 2:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func firstInt(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}
