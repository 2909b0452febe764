package cookies

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"

	"github.com/chromedp/cdproto/network"
)

// CookieSet is a flat mapping of cookie name to cookie value. It is the only
// representation of a session that moves between the http client, the
// browser and the cookie file.
type CookieSet map[string]string

// Load reads a cookie file, a missing file is reported as a nil set with no error.
func Load(path string) (CookieSet, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out CookieSet
	err = json.Unmarshal(contents, &out)
	if err != nil {
		return nil, fmt.Errorf("parse cookie file %s: %w", path, err)
	}
	if out == nil {
		out = CookieSet{}
	}
	return out, nil
}

// Save writes the set as a plain json object, overwriting whatever was there.
func Save(path string, set CookieSet) error {
	if set == nil {
		set = CookieSet{}
	}
	serialized, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return os.WriteFile(path, serialized, 0600)
}

func FromHttp(list []*http.Cookie) CookieSet {
	out := CookieSet{}
	for _, c := range list {
		out[c.Name] = c.Value
	}
	return out
}

func FromJar(jar http.CookieJar, u *url.URL) CookieSet {
	if jar == nil {
		return CookieSet{}
	}
	return FromHttp(jar.Cookies(u))
}

// Names returns the cookie names in sorted order.
func (s CookieSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s CookieSet) Http() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s))
	for _, name := range s.Names() {
		out = append(out, &http.Cookie{Name: name, Value: s[name]})
	}
	return out
}

// Browser converts the set into cookie params for the devtools protocol,
// all scoped to the given origin.
func (s CookieSet) Browser(origin *url.URL) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(s))
	for _, name := range s.Names() {
		out = append(out, &network.CookieParam{
			Name:   name,
			Value:  s[name],
			URL:    origin.String(),
			Domain: origin.Hostname(),
			Path:   "/",
			Secure: origin.Scheme == "https",
		})
	}
	return out
}
