// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"gsexport/lib/browser"
	"gsexport/lib/cookies"
	"net/url"
	"os"
)

// Driver serves canned page sources by url and records every call made to it.
type Driver struct {
	Pages map[string]string

	Current  string
	Visited  []string
	Scripts  []string
	Printed  []string
	Cookies  cookies.CookieSet
	PrintErr error
	// PrintErrs fails printing only while the given url is loaded.
	PrintErrs map[string]error
}

var _ browser.Driver = (*Driver)(nil)

func New(pages map[string]string) *Driver {
	return &Driver{Pages: pages}
}

func (d *Driver) Navigate(_ context.Context, target string) error {
	d.Current = target
	d.Visited = append(d.Visited, target)
	return nil
}

func (d *Driver) ExecuteScript(_ context.Context, script string) error {
	d.Scripts = append(d.Scripts, script)
	return nil
}

// PageSource returns an empty document for urls with no canned page.
func (d *Driver) PageSource(context.Context) (string, error) {
	page, ok := d.Pages[d.Current]
	if !ok {
		return "<html><head></head><body></body></html>", nil
	}
	return page, nil
}

func (d *Driver) PrintToPDF(_ context.Context, _ browser.PrintOptions, outputFile string) ([]byte, error) {
	if d.PrintErr != nil {
		return nil, d.PrintErr
	}
	if err, ok := d.PrintErrs[d.Current]; ok {
		return nil, err
	}
	pdf := []byte(fmt.Sprintf("%%PDF-1.4 %s", d.Current))
	if outputFile != "" {
		err := os.WriteFile(outputFile, pdf, 0644)
		if err != nil {
			return nil, err
		}
		d.Printed = append(d.Printed, outputFile)
	}
	return pdf, nil
}

func (d *Driver) SetCookies(ctx context.Context, origin *url.URL, set cookies.CookieSet) error {
	err := d.Navigate(ctx, origin.String())
	if err != nil {
		return err
	}
	if d.Cookies == nil {
		d.Cookies = cookies.CookieSet{}
	}
	for k, v := range set {
		d.Cookies[k] = v
	}
	return nil
}
