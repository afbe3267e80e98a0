package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/farwydi/bookaware"
)

const (
	DefaultStartURL = "https://voebb.de/"

	// catalogueSelection switches the start page to the account login.
	catalogueSelection = "ZTEXT       *SBK"
	userField          = "L#AUSW"
	passwordField      = "LPASSW"
	loginButton        = "LLOGIN"
	loansLinkSelector  = `div#konto-services li a[href*="S*SZA"]`
)

// VOEBB logs into the Berlin public library portal and reads the loans.
type VOEBB struct {
	StartURL  string
	Username  string
	Password  string
	UserAgent string
	Client    ClientConfig
	Logger    bookaware.Logger
	Dumper    bookaware.PageDumper
	Now       func() time.Time
}

// Loans runs the whole login flow in a fresh session.
func (v *VOEBB) Loans(ctx context.Context) ([]bookaware.Loan, error) {
	logger := v.Logger
	if logger == nil {
		logger = bookaware.NewNopLogger()
	}
	now := v.Now
	if now == nil {
		now = time.Now
	}
	startURL := v.StartURL
	if startURL == "" {
		startURL = DefaultStartURL
	}

	clientCfg := v.Client
	if clientCfg.Logger == nil {
		clientCfg.Logger = logger
	}

	s, err := NewSession(startURL, SessionConfig{
		Client:    NewHTTPClient(clientCfg),
		UserAgent: v.UserAgent,
		Logger:    logger,
		Dumper:    v.Dumper,
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("starting scraping process")

	steps := []struct {
		stage string
		run   func() error
	}{
		{"load", func() error {
			_, err := s.LoadPage(ctx)
			return err
		}},
		{"select-login", func() error {
			_, err := s.SubmitForm(ctx, map[string]string{"selected": catalogueSelection}, "")
			return err
		}},
		{"login", func() error {
			_, err := s.SubmitForm(ctx, map[string]string{
				userField:     v.Username,
				passwordField: v.Password,
			}, loginButton, passwordField)
			return err
		}},
		{"loans-link", func() error {
			_, err := s.FollowLink(ctx, loansLinkSelector)
			return err
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			s.DumpPage(step.stage)
			logger.Errorw("error occurred during scraping process", "stage", step.stage, "error", err)
			return nil, fmt.Errorf("%s: %w", step.stage, err)
		}
	}

	loans, err := s.ExtractLoans(now())
	if err != nil {
		s.DumpPage("loans-table")
		logger.Errorw("error occurred during scraping process", "stage", "loans-table", "error", err)
		return nil, fmt.Errorf("loans-table: %w", err)
	}

	logger.Infow("loans retrieved", "count", len(loans))
	return loans, nil
}
