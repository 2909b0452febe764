package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gsexport/lib/cookies"
	"gsexport/lib/restyutil"
	"gsexport/lib/telemetry"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("gsexport.lib.platforms.gradescope.core")

const DefaultBaseUrl = "https://www.gradescope.com"

const (
	loggedOutWarning   = "You must be logged out to access this page."
	invalidCredentials = "Invalid email/password combination"
)

var ErrInvalidCredentials = errors.New("failed to log in; invalid email/password combination")
var ErrNoAuthenticityToken = errors.New("could not find authenticity token in login form")
var ErrMissingCredentials = errors.New("email and password are required to log in")

// HttpError is returned when the login request comes back with a non-success status.
type HttpError struct {
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("failed to log in; (status %d)\nresponse: %s", e.StatusCode, e.Body)
}

// Prompter asks the user for whatever credentials were not configured.
type Prompter interface {
	Prompt(label string) (string, error)
	PromptPassword(label string) (string, error)
}

type ClientOptions struct {
	BaseUrl  string
	Email    string
	Password string
	// CookieFile is where the session is restored from and saved to, an
	// empty string disables cookie persistence.
	CookieFile string

	Prompter         Prompter
	CloudflareBypass bool
	InstrumentOutput restyutil.InstrumentOutput
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	opts    ClientOptions
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 20)

	telemetry.InstrumentResty(client, "gsexport.lib.platforms.gradescope.http")
	restyutil.InstrumentClient(client, opts.InstrumentOutput)

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
		opts:    opts,
	}, nil
}

func (c *Client) loginUrl() string {
	return c.BaseUrl.JoinPath("login").String()
}

// Cookies returns the cookies the http session currently holds for the platform.
func (c *Client) Cookies() cookies.CookieSet {
	return cookies.FromJar(c.Http.GetClient().Jar, c.BaseUrl)
}

func (c *Client) resetJar() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.Http.SetCookieJar(jar)
	return nil
}

// Login authenticates the http session, preferring a saved session from the
// cookie file and falling back to an email/password login. the returned
// cookies are what the browser needs to share the session.
func (c *Client) Login(ctx context.Context) (cookies.CookieSet, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	if c.opts.CookieFile != "" {
		restored, err := c.restoreSession(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to restore session")
			return nil, err
		}
		if restored != nil {
			span.SetAttributes(attribute.Bool("restored", true))
			return restored, nil
		}
	}

	email, password, err := c.credentials()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	err = c.LoginEmailPassword(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to log in")
		return nil, err
	}

	set := c.Cookies()
	if c.opts.CookieFile != "" {
		err = cookies.Save(c.opts.CookieFile, set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save cookies")
			return nil, fmt.Errorf("save cookies: %w", err)
		}
		slog.InfoContext(ctx, "saved session cookies", "file", c.opts.CookieFile)
	}
	return set, nil
}

// restoreSession returns the saved cookies if they still belong to a logged
// in session, nil if a fresh login is needed.
func (c *Client) restoreSession(ctx context.Context) (cookies.CookieSet, error) {
	ctx, span := tracer.Start(ctx, "client:restoreSession")
	defer span.End()

	saved, err := cookies.Load(c.opts.CookieFile)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, nil
	}
	slog.InfoContext(ctx, "restoring cookies", "file", c.opts.CookieFile)

	c.Http.GetClient().Jar.SetCookies(c.BaseUrl, saved.Http())

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return nil, err
	}

	if loggedOutWarningPresent(res.Body()) {
		slog.DebugContext(ctx, "session confirmed by logged out warning")
		return saved, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse login page")
		return nil, err
	}
	if SessionLooksValid(doc) {
		slog.DebugContext(ctx, "session confirmed by missing login form")
		return saved, nil
	}

	slog.InfoContext(ctx, "saved session has expired, logging in again")
	return nil, nil
}

func loggedOutWarningPresent(body []byte) bool {
	var parsed struct {
		Warning string `json:"warning"`
	}
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return false
	}
	return parsed.Warning == loggedOutWarning
}

// SessionLooksValid reports whether a login page response belongs to a
// logged in user. the platform only renders the login button for logged out
// visitors, so its absence is taken to mean the session is still good.
func SessionLooksValid(doc *goquery.Document) bool {
	return doc.Find(`input[type="submit"][value="Log In"]`).Length() == 0
}

func (c *Client) credentials() (string, string, error) {
	email := c.opts.Email
	password := c.opts.Password

	var err error
	if email == "" && c.opts.Prompter != nil {
		email, err = c.opts.Prompter.Prompt("Gradescope email")
		if err != nil {
			return "", "", err
		}
	}
	if password == "" && c.opts.Prompter != nil {
		password, err = c.opts.Prompter.PromptPassword("Gradescope password")
		if err != nil {
			return "", "", err
		}
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return "", "", ErrMissingCredentials
	}
	return strings.TrimSpace(email), password, nil
}

// ExtractAuthenticityToken reads the anti-forgery token out of the first form on the page.
func ExtractAuthenticityToken(doc *goquery.Document) (string, error) {
	token, ok := doc.Find("form").First().
		Find(`input[name="authenticity_token"]`).First().
		Attr("value")
	if !ok || token == "" {
		return "", ErrNoAuthenticityToken
	}
	return token, nil
}

// LoginEmailPassword logs the http session in with a fresh cookie jar.
func (c *Client) LoginEmailPassword(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "client:LoginEmailPassword")
	defer span.End()

	slog.InfoContext(ctx, "logging in", "email", email)

	err := c.resetJar()
	if err != nil {
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch (1)")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse html (1)")
		return err
	}

	token, err := ExtractAuthenticityToken(doc)
	if err != nil {
		span.SetStatus(codes.Error, "failed to find authenticity token")
		return err
	}

	origin := fmt.Sprintf("%s://%s", c.BaseUrl.Scheme, c.BaseUrl.Host)
	res, err = c.Http.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Host":    c.BaseUrl.Host,
			"Origin":  origin,
			"Referer": c.loginUrl(),
		}).
		SetFormData(map[string]string{
			"utf8":                     "✓",
			"authenticity_token":       token,
			"session[email]":           email,
			"session[password]":        password,
			"session[remember_me]":     "1",
			"commit":                   "Log In",
			"session[remember_me_sso]": "0",
		}).
		Post("/login")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}
	if res.IsError() {
		err := &HttpError{StatusCode: res.StatusCode(), Body: res.String()}
		span.SetStatus(codes.Error, "login request returned an error status")
		return err
	}

	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse login response html")
		return err
	}
	if HasInvalidCredentialsAlert(doc) {
		span.SetStatus(codes.Error, ErrInvalidCredentials.Error())
		return ErrInvalidCredentials
	}

	return nil
}

func HasInvalidCredentialsAlert(doc *goquery.Document) bool {
	found := false
	doc.Find(".alert-error span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), invalidCredentials) {
			found = true
			return false
		}
		return true
	})
	return found
}
