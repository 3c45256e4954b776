// Package browser drives a headless Chrome against the dashboard with
// chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/Dicklesworthstone/wats/internal/fly"
)

// AuthCookieName is the cookie the ATC reads the bearer token from.
const AuthCookieName = "ATC-Authorization"

// Login modes.
const (
	LoginToken = "token"
	LoginForm  = "form"
)

// TokenSource returns the token fly saved for a team.
type TokenSource interface {
	Token(team string) (fly.Token, error)
}

// Options configures a Browser.
type Options struct {
	ATCURL       string
	Headless     bool
	ExecPath     string
	WindowWidth  int
	WindowHeight int

	// LoginMode is LoginToken or LoginForm.
	LoginMode string
	// Tokens is required for LoginToken.
	Tokens TokenSource
	// Username, Password and the selectors are required for LoginForm.
	Username         string
	Password         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string

	Logger *log.Logger
}

// Browser is one Chrome instance with a single tab. Each Browser has its
// own profile, so cookies are never shared between Browsers.
type Browser struct {
	opts   Options
	base   *url.URL
	logger *log.Logger

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
}

// New launches Chrome. ctx bounds the launch only; call Close to stop it.
func New(ctx context.Context, opts Options) (*Browser, error) {
	base, err := url.Parse(opts.ATCURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("browser: invalid ATC URL %q", opts.ATCURL)
	}
	switch opts.LoginMode {
	case "", LoginToken:
		opts.LoginMode = LoginToken
		if opts.Tokens == nil {
			return nil, errors.New("browser: token login needs a token source")
		}
	case LoginForm:
		if opts.Username == "" {
			return nil, errors.New("browser: form login needs a username")
		}
	default:
		return nil, fmt.Errorf("browser: unknown login mode %q", opts.LoginMode)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf), chromedp.WithErrorf(logger.Errorf))

	b := &Browser{
		opts:        opts,
		base:        base,
		logger:      logger,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}

	// The first Run allocates Chrome and ties it to the context it is given,
	// so it must run on the tab context itself.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tab) }()
	select {
	case err := <-started:
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("browser: starting chrome: %w", err)
		}
	case <-ctx.Done():
		b.Close()
		return nil, fmt.Errorf("browser: starting chrome: %w", ctx.Err())
	}
	return b, nil
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	o := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	o = append(o, chromedp.Flag("headless", opts.Headless))
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		o = append(o, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ExecPath != "" {
		o = append(o, chromedp.ExecPath(opts.ExecPath))
	}
	return o
}

// Close closes the tab and stops Chrome.
func (b *Browser) Close() error {
	b.tabCancel()
	b.allocCancel()
	return nil
}

// LoginAs authenticates the browser as team.
func (b *Browser) LoginAs(ctx context.Context, team string) error {
	switch b.opts.LoginMode {
	case LoginForm:
		return b.formLogin(ctx, team)
	default:
		return b.tokenLogin(ctx, team)
	}
}

func (b *Browser) tokenLogin(ctx context.Context, team string) error {
	tok, err := b.opts.Tokens.Token(team)
	if err != nil {
		return fmt.Errorf("browser login as %s: %w", team, err)
	}

	setCookie := chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(AuthCookieName, tok.Header()).
			WithURL(b.base.String()).
			WithHTTPOnly(true).
			Do(ctx)
	})
	if err := b.run(ctx, setCookie); err != nil {
		return fmt.Errorf("browser login as %s: setting auth cookie: %w", team, err)
	}
	b.logger.Debug("set auth cookie", "team", team)
	return nil
}

func (b *Browser) formLogin(ctx context.Context, team string) error {
	loginURL := b.resolve("/teams/" + team + "/login")
	err := b.run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(b.opts.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(b.opts.UsernameSelector, b.opts.Username, chromedp.ByQuery),
		chromedp.SendKeys(b.opts.PasswordSelector, b.opts.Password, chromedp.ByQuery),
		chromedp.Click(b.opts.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitNotPresent(b.opts.PasswordSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("browser login as %s: %w", team, err)
	}
	b.logger.Debug("submitted login form", "team", team, "url", loginURL)
	return nil
}

// AmOnPage navigates to path on the ATC.
func (b *Browser) AmOnPage(ctx context.Context, path string) error {
	target := b.resolve(path)
	if err := b.run(ctx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigating to %s: %w", target, err)
	}
	return nil
}

// WaitForElement waits until selector matches an element in the page.
// When timeout elapses the error wraps context.DeadlineExceeded.
func (b *Browser) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting for %s: %w", selector, err)
	}
	return nil
}

// ExecuteScript evaluates script in the page and decodes its value into result.
func (b *Browser) ExecuteScript(ctx context.Context, script string, result any) error {
	if err := b.run(ctx, chromedp.Evaluate(script, result)); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}
	return buf, nil
}

// run runs actions in the tab, giving up when ctx is done. Cancelling ctx
// aborts the actions but keeps the tab open.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// resolve joins path onto the ATC URL, keeping any path prefix it has.
func (b *Browser) resolve(path string) string {
	return resolveURL(b.base, path)
}

func resolveURL(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	return u.String()
}
