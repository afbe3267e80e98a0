package scraper

import (
	"errors"
	"fmt"
)

var (
	ErrNoForm = errors.New("no form found on the page")
	ErrNoLink = errors.New("no link found")
	ErrNoHref = errors.New("link has no href attribute")
	ErrNoPage = errors.New("no page loaded")
)

// StatusError reports a response other than 200 OK.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
