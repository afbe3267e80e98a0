package scraper

import (
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/farwydi/bookaware"
	"github.com/hashicorp/go-retryablehttp"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// RandomUserAgent picks one of a handful of current desktop browser agents.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

type ClientConfig struct {
	Timeout  time.Duration
	RetryMax int
	Logger   bookaware.Logger
}

// NewHTTPClient returns a retrying client with its own cookie jar.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// redirects are followed by the outer client so the jar sees every hop
	rc.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if cfg.Logger != nil {
		rc.Logger = leveledLogger{cfg.Logger}
	}

	c := rc.StandardClient()
	c.Timeout = cfg.Timeout
	// error from cookiejar.New is always nil
	c.Jar, _ = cookiejar.New(nil)
	return c
}

type leveledLogger struct {
	l bookaware.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.Warnw(msg, kv...) }
