package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	agenterrors "republic/internal/errors"
	"republic/internal/httpclient"
	"republic/internal/logging"
)

const (
	defaultMaxPageBytes = 2 << 20
	defaultMaxChars     = 50000
	userAgent           = "Republic-Agent/1.0 (+page fetcher)"
)

// Page is the document currently loaded in a Session.
type Page struct {
	URL        string
	StatusCode int
	Title      string
	LoadedAt   time.Time

	doc *goquery.Document
}

// Session is a minimal browser: it fetches pages over HTTP and answers text
// queries against the last loaded document. One run owns one session.
type Session struct {
	client   *http.Client
	logger   logging.Logger
	maxBytes int64

	mu     sync.Mutex
	page   *Page
	closed bool
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithHTTPClient sets the client used for page loads.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) {
		if client != nil {
			s.client = client
		}
	}
}

// WithMaxPageBytes bounds the size of a loaded page.
func WithMaxPageBytes(n int64) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewSession opens a session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		logger:   logging.NewComponentLogger("browser"),
		maxBytes: defaultMaxPageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httpclient.New(60*time.Second, s.logger)
	}
	return s
}

// Open loads url and makes it the current page.
func (s *Session) Open(ctx context.Context, rawURL string) (Page, error) {
	if err := s.ensureOpen(); err != nil {
		return Page{}, err
	}
	parsed, err := neturl.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Page{}, agenterrors.New(agenterrors.CodeValidation, "invalid url %q", rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Page{}, agenterrors.New(agenterrors.CodeValidation, "unsupported url scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Page{}, agenterrors.Wrap(agenterrors.CodeValidation, err, "")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, agenterrors.FromError(fmt.Errorf("load %s: %w", rawURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httpclient.ReadBody(resp.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, httpclient.ErrBodyTooLarge) {
			return Page{}, agenterrors.Wrap(agenterrors.CodeValidation, err, "")
		}
		return Page{}, agenterrors.FromError(err)
	}
	if resp.StatusCode >= 400 {
		return Page{}, agenterrors.FromError(httpclient.StatusError(resp, body))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, agenterrors.Wrap(agenterrors.CodeValidation, err, "parse html")
	}
	page := Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		LoadedAt:   time.Now(),
		doc:        doc,
	}

	s.mu.Lock()
	s.page = &page
	s.mu.Unlock()
	s.logger.Debug("loaded %s (%d, %d bytes)", page.URL, page.StatusCode, len(body))
	return page, nil
}

// ExtractText returns the whitespace-collapsed text of every element
// matching selector on the current page, truncated to maxChars runes.
func (s *Session) ExtractText(selector string, maxChars int) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return "", agenterrors.New(agenterrors.CodeValidation, "no page loaded; call open_url first")
	}
	if selector == "" {
		selector = "body"
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	selection := page.doc.Find(selector)
	if selection.Length() == 0 {
		return "", agenterrors.New(agenterrors.CodeNotFound, "no element matches selector %q", selector)
	}
	selection.Find("script, style, noscript").Remove()

	parts := make([]string, 0, selection.Length())
	selection.Each(func(_ int, sel *goquery.Selection) {
		if text := strings.Join(strings.Fields(sel.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	text := strings.Join(parts, "\n")
	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars])
	}
	return text, nil
}

// Current returns the loaded page, if any.
func (s *Session) Current() (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Page{}, false
	}
	return *s.page, true
}

// Close drops the current page and idle connections. Later calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.page = nil
	s.client.CloseIdleConnections()
	return nil
}

func (s *Session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return agenterrors.New(agenterrors.CodeConflict, "browser session is closed")
	}
	return nil
}
