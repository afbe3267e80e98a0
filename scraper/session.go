package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/farwydi/bookaware"
)

// maxPageSize caps how much of a response body is kept.
const maxPageSize = 8 << 20

// Session behaves like a browser tab: it remembers cookies, the current URL
// and the last page, and resolves relative links against that URL.
type Session struct {
	client    *http.Client
	userAgent string
	logger    bookaware.Logger
	dumper    bookaware.PageDumper

	currentURL *url.URL
	lastPage   []byte
}

type SessionConfig struct {
	Client    *http.Client
	UserAgent string
	Logger    bookaware.Logger
	Dumper    bookaware.PageDumper
}

func NewSession(startURL string, cfg SessionConfig) (*Session, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("bad start url: %w", err)
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(ClientConfig{})
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = RandomUserAgent()
	}
	if cfg.Logger == nil {
		cfg.Logger = bookaware.NewNopLogger()
	}
	if cfg.Dumper == nil {
		cfg.Dumper = bookaware.NewNullDumper()
	}
	return &Session{
		client:     cfg.Client,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
		dumper:     cfg.Dumper,
		currentURL: u,
	}, nil
}

func (s *Session) CurrentURL() string {
	return s.currentURL.String()
}

func (s *Session) LastPage() []byte {
	return s.lastPage
}

// DumpPage hands the current page to the dumper.
func (s *Session) DumpPage(stage string) {
	s.dumper.Dump(stage, s.CurrentURL(), s.lastPage)
}

func (s *Session) do(req *http.Request) (*url.URL, []byte, error) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, body, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}
	return resp.Request.URL, body, nil
}

// navigate performs req and makes its final URL and body the current page.
func (s *Session) navigate(req *http.Request) ([]byte, error) {
	finalURL, body, err := s.do(req)
	if err != nil {
		return nil, err
	}
	s.currentURL = finalURL
	s.lastPage = body
	return body, nil
}

func (s *Session) document() (*goquery.Document, error) {
	if s.lastPage == nil {
		return nil, ErrNoPage
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(s.lastPage))
}

// LoadPage fetches the current URL.
func (s *Session) LoadPage(ctx context.Context) ([]byte, error) {
	s.logger.Infow("loading page", "url", s.CurrentURL())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.CurrentURL(), nil)
	if err != nil {
		return nil, err
	}

	body, err := s.navigate(req)
	if err != nil {
		s.logger.Errorw("failed to load page", "error", err)
		return nil, fmt.Errorf("load page: %w", err)
	}

	s.logger.Infow("page loaded successfully", "url", s.CurrentURL())
	return body, nil
}

// SubmitForm posts the first form on the current page. Every named input is
// sent with its default value unless values overrides it; submit inputs are
// left out except the one named button.
func (s *Session) SubmitForm(ctx context.Context, values map[string]string, button string, redact ...string) ([]byte, error) {
	s.logger.Infow("finding and submitting form", "current_url", s.CurrentURL())

	doc, err := s.document()
	if err != nil {
		return nil, err
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		s.logger.Errorw("no form found on the page")
		return nil, ErrNoForm
	}

	action, err := s.resolve(form.AttrOr("action", ""))
	if err != nil {
		return nil, fmt.Errorf("bad form action: %w", err)
	}
	s.logger.Infow("have form", "action_url", action.String())

	payload := url.Values{}
	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || name == "" {
			return
		}
		if strings.EqualFold(input.AttrOr("type", ""), "submit") && name != button {
			return
		}
		value := input.AttrOr("value", "")
		if v, ok := values[name]; ok {
			value = v
		}
		payload.Set(name, value)
	})

	s.logger.Infow("submitting form", "url", action.String(), "payload", redacted(payload, redact))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.navigate(req)
	if err != nil {
		s.logger.Errorw("form submission failed", "error", err)
		return nil, fmt.Errorf("submit form: %w", err)
	}

	s.logger.Infow("form submitted successfully", "url", s.CurrentURL())
	return body, nil
}

// FollowLink navigates to the href of the first element matching selector.
func (s *Session) FollowLink(ctx context.Context, selector string) ([]byte, error) {
	s.logger.Infow("attempting to find and follow link", "selector", selector)

	doc, err := s.document()
	if err != nil {
		return nil, err
	}

	link := doc.Find(selector).First()
	if link.Length() == 0 {
		s.logger.Errorw("no link found with the given css selector", "selector", selector)
		return nil, fmt.Errorf("%w: %s", ErrNoLink, selector)
	}

	href, ok := link.Attr("href")
	if !ok || href == "" {
		s.logger.Errorw("the found link does not have an href attribute", "selector", selector)
		return nil, ErrNoHref
	}

	target, err := s.resolve(href)
	if err != nil {
		return nil, fmt.Errorf("bad link: %w", err)
	}
	s.logger.Infow("following link", "target_url", target.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	body, err := s.navigate(req)
	if err != nil {
		s.logger.Errorw("failed to navigate to the link", "error", err, "target_url", target.String())
		return nil, fmt.Errorf("follow link: %w", err)
	}

	s.logger.Infow("successfully navigated to the link", "target_url", s.CurrentURL())
	return body, nil
}

// Fetch retrieves rawURL with the session cookies without leaving the
// current page.
func (s *Session) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	s.logger.Infow("fetching", "url", rawURL)

	target, err := s.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	_, body, err := s.do(req)
	if err != nil {
		s.logger.Errorw("failed to fetch", "error", err, "url", target.String())
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return body, nil
}

func (s *Session) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return s.currentURL.ResolveReference(u), nil
}

func redacted(values url.Values, fields []string) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	for _, f := range fields {
		if _, ok := out[f]; ok {
			out[f] = "***"
		}
	}
	return out
}
