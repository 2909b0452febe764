package core

import (
	"bytes"
	"context"
	"errors"
	"gsexport/lib/cookies"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "embed"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

//go:embed login_page_test.html
var loginPageTest []byte

//go:embed invalid_login_test.html
var invalidLoginTest []byte

const fixtureToken = "Xq0f3z+9bKx1R2mE7yWlUQ=="

type fakePrompter struct {
	email    string
	password string
	asked    []string
}

func (p *fakePrompter) Prompt(label string) (string, error) {
	p.asked = append(p.asked, label)
	return p.email, nil
}

func (p *fakePrompter) PromptPassword(label string) (string, error) {
	p.asked = append(p.asked, label)
	return p.password, nil
}

type fakeGradescope struct {
	*httptest.Server
	posts       atomic.Int32
	postStatus  int
	lastReferer atomic.Value
}

func newFakeGradescope(t testing.TB) *fakeGradescope {
	f := &fakeGradescope{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			session, err := r.Cookie("signed_token")
			if err == nil && session.Value == "valid" {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"warning":"You must be logged out to access this page."}`))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "_gradescope_session", Value: "anonymous", Path: "/"})
			w.Write(loginPageTest)
		case http.MethodPost:
			f.posts.Add(1)
			f.lastReferer.Store(r.Header.Get("Referer"))
			if f.postStatus != 0 {
				w.WriteHeader(f.postStatus)
				w.Write([]byte("upstream exploded"))
				return
			}
			err := r.ParseForm()
			if err != nil {
				t.Error(err)
			}
			if r.PostForm.Get("authenticity_token") != fixtureToken ||
				r.PostForm.Get("session[remember_me]") != "1" ||
				r.PostForm.Get("commit") != "Log In" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			if r.PostForm.Get("session[email]") != "student@example.com" ||
				r.PostForm.Get("session[password]") != "correct horse" {
				w.Write(invalidLoginTest)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "signed_token", Value: "valid", Path: "/"})
			http.Redirect(w, r, "/account", http.StatusFound)
		}
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Your Courses</h1></body></html>`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t testing.TB, opts ClientOptions) *Client {
	client, err := NewClient(context.Background(), opts)
	require.NoError(t, err)
	return client
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(context.Background(), ClientOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultBaseUrl, client.BaseUrl.String())
	require.Equal(t, 20*time.Second, client.Http.GetClient().Timeout)
	require.NotNil(t, client.Http.GetClient().Jar)
}

func TestExtractAuthenticityToken(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(loginPageTest))
	require.NoError(t, err)

	token, err := ExtractAuthenticityToken(doc)
	require.NoError(t, err)
	require.Equal(t, fixtureToken, token)
}

func TestExtractAuthenticityTokenMissing(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(`<form><input name="other"></form>`))
	require.NoError(t, err)

	_, err = ExtractAuthenticityToken(doc)
	require.ErrorIs(t, err, ErrNoAuthenticityToken)
}

func TestSessionLooksValid(t *testing.T) {
	loginPage, err := goquery.NewDocumentFromReader(bytes.NewBuffer(loginPageTest))
	require.NoError(t, err)
	require.False(t, SessionLooksValid(loginPage))

	dashboard, err := goquery.NewDocumentFromReader(bytes.NewBufferString(`<html><body>Your Courses</body></html>`))
	require.NoError(t, err)
	require.True(t, SessionLooksValid(dashboard))
}

func TestLoginSavesCookies(t *testing.T) {
	srv := newFakeGradescope(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.json")

	client := newTestClient(t, ClientOptions{
		BaseUrl:    srv.URL,
		Email:      "student@example.com",
		Password:   "correct horse",
		CookieFile: cookieFile,
	})
	set, err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, "valid", set["signed_token"])
	require.Equal(t, srv.URL+"/login", srv.lastReferer.Load())

	saved, err := cookies.Load(cookieFile)
	require.NoError(t, err)
	require.Equal(t, set, saved)
}

func TestLoginPromptsForMissingCredentials(t *testing.T) {
	srv := newFakeGradescope(t)
	prompter := &fakePrompter{email: " student@example.com ", password: "correct horse"}

	client := newTestClient(t, ClientOptions{
		BaseUrl:  srv.URL,
		Prompter: prompter,
	})
	_, err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Gradescope email", "Gradescope password"}, prompter.asked)
}

func TestLoginMissingCredentialsWithoutPrompter(t *testing.T) {
	srv := newFakeGradescope(t)
	client := newTestClient(t, ClientOptions{BaseUrl: srv.URL, Email: "student@example.com"})

	_, err := client.Login(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
	require.Equal(t, int32(0), srv.posts.Load())
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := newFakeGradescope(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.json")

	client := newTestClient(t, ClientOptions{
		BaseUrl:    srv.URL,
		Email:      "student@example.com",
		Password:   "wrong",
		CookieFile: cookieFile,
	})
	_, err := client.Login(context.Background())
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = os.Stat(cookieFile)
	require.True(t, os.IsNotExist(err), "cookie file must not be written after a failed login")
}

func TestLoginHttpError(t *testing.T) {
	srv := newFakeGradescope(t)
	srv.postStatus = http.StatusInternalServerError

	client := newTestClient(t, ClientOptions{
		BaseUrl:  srv.URL,
		Email:    "student@example.com",
		Password: "correct horse",
	})
	_, err := client.Login(context.Background())

	var httpErr *HttpError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	require.Equal(t, "upstream exploded", httpErr.Body)
}

func TestLoginRestoresSavedSession(t *testing.T) {
	srv := newFakeGradescope(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookies.Save(cookieFile, cookies.CookieSet{"signed_token": "valid"}))

	client := newTestClient(t, ClientOptions{
		BaseUrl:    srv.URL,
		CookieFile: cookieFile,
	})
	set, err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, cookies.CookieSet{"signed_token": "valid"}, set)
	require.Equal(t, int32(0), srv.posts.Load())
}

func TestLoginRestoreWithoutLoginForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Your Courses</h1></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cookieFile := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookies.Save(cookieFile, cookies.CookieSet{"signed_token": "whatever"}))

	client := newTestClient(t, ClientOptions{BaseUrl: srv.URL, CookieFile: cookieFile})
	set, err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, "whatever", set["signed_token"])
}

func TestLoginExpiredSessionLogsInAgain(t *testing.T) {
	srv := newFakeGradescope(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookies.Save(cookieFile, cookies.CookieSet{"signed_token": "expired"}))

	client := newTestClient(t, ClientOptions{
		BaseUrl:    srv.URL,
		CookieFile: cookieFile,
		Prompter:   &fakePrompter{email: "student@example.com", password: "correct horse"},
	})
	set, err := client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, "valid", set["signed_token"])
	require.Equal(t, int32(1), srv.posts.Load())

	saved, err := cookies.Load(cookieFile)
	require.NoError(t, err)
	require.Equal(t, "valid", saved["signed_token"])
}

func TestLoginMalformedCookieFile(t *testing.T) {
	srv := newFakeGradescope(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(cookieFile, []byte("not json"), 0600))

	client := newTestClient(t, ClientOptions{BaseUrl: srv.URL, CookieFile: cookieFile})
	_, err := client.Login(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(0), srv.posts.Load())
}
