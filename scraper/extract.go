package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/farwydi/bookaware"
	"golang.org/x/net/html"
)

// LoanRowsSelector matches the rows of the loans table in the account view.
const LoanRowsSelector = "#resptable-1 tbody tr"

// ExtractLoans parses the loans table of the current page. Cells are
// [checkbox, due date, library, title, hint]; shorter rows are ignored.
func (s *Session) ExtractLoans(now time.Time) ([]bookaware.Loan, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return ExtractLoans(doc, now)
}

func ExtractLoans(doc *goquery.Document, now time.Time) ([]bookaware.Loan, error) {
	loans := []bookaware.Loan{}

	var rowErr error
	doc.Find(LoanRowsSelector).EachWithBreak(func(i int, tr *goquery.Selection) bool {
		tds := tr.Find("td")
		if tds.Length() < 5 {
			return true
		}

		dateStr := strings.TrimSpace(tds.Eq(1).Text())
		due, err := bookaware.ParseDueDate(dateStr)
		if err != nil {
			rowErr = fmt.Errorf("row %d: bad due date %q: %w", i, dateStr, err)
			return false
		}

		loans = append(loans, bookaware.Loan{
			DueDate:  due,
			Library:  strings.TrimSpace(tds.Eq(2).Text()),
			Title:    strings.Join(strippedStrings(tds.Eq(3)), " "),
			Hint:     strings.TrimSpace(tds.Eq(4).Text()),
			DaysLeft: bookaware.DaysUntil(due, now),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return loans, nil
}

// strippedStrings returns every non-blank text fragment below sel, trimmed,
// in document order.
func strippedStrings(sel *goquery.Selection) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				out = append(out, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}
