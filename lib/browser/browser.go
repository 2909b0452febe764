// Package browser drives a single headless chrome tab over the devtools protocol.
package browser

import (
	"context"
	"fmt"
	"gsexport/lib/cookies"
	"gsexport/lib/telemetry"
	"log/slog"
	"net/url"
	"os"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("gsexport.lib.browser")

// Driver is the set of page operations the exporter and crawler need.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	ExecuteScript(ctx context.Context, script string) error
	PageSource(ctx context.Context) (string, error)
	PrintToPDF(ctx context.Context, opts PrintOptions, outputFile string) ([]byte, error)
	SetCookies(ctx context.Context, origin *url.URL, set cookies.CookieSet) error
}

type PrintOptions struct {
	Background bool
}

type Options struct {
	Headless bool
	// ExecPath overrides chrome discovery when non-empty.
	ExecPath string
}

type Browser struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

var _ Driver = (*Browser)(nil)

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	// DefaultExecAllocatorOptions already contains chromedp.Headless
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	allocOpts = append(allocOpts,
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	return allocOpts
}

// New starts a browser process and opens a tab, the process lives until
// Close is called or ctx is cancelled.
func New(ctx context.Context, opts Options) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			slog.Warn(fmt.Sprintf(format, args...))
		}),
	)

	// runs an empty action list so the browser is started eagerly
	err := chromedp.Run(tabCtx)
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Browser{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// Close shuts down the tab and the browser process.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
}

// run executes actions on the tab, stopping early if the caller's ctx is done.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, target string) error {
	ctx, span := tracer.Start(ctx, "Navigate")
	defer span.End()
	span.SetAttributes(attribute.String("url", target))

	slog.DebugContext(ctx, "navigate", "url", target)
	err := b.run(ctx, chromedp.Navigate(target))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate")
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	return nil
}

func (b *Browser) ExecuteScript(ctx context.Context, script string) error {
	ctx, span := tracer.Start(ctx, "ExecuteScript")
	defer span.End()

	err := b.run(ctx, chromedp.Evaluate(script, nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to evaluate script")
		return fmt.Errorf("execute script: %w", err)
	}
	return nil
}

func (b *Browser) PageSource(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "PageSource")
	defer span.End()

	var source string
	err := b.run(ctx, chromedp.OuterHTML("html", &source, chromedp.ByQuery))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read page source")
		return "", fmt.Errorf("read page source: %w", err)
	}
	return source, nil
}

// PrintToPDF renders the current page, writing it to outputFile as well if
// it is non-empty. an existing file is overwritten.
func (b *Browser) PrintToPDF(ctx context.Context, opts PrintOptions, outputFile string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "PrintToPDF")
	defer span.End()

	var pdf []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(opts.Background).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to print page")
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	span.SetAttributes(attribute.Int("pdf_bytes", len(pdf)))

	if outputFile != "" {
		err = os.WriteFile(outputFile, pdf, 0644)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to write pdf")
			return nil, err
		}
	}
	return pdf, nil
}

// SetCookies navigates to origin so the cookies attach to the right domain,
// then installs every cookie in set.
func (b *Browser) SetCookies(ctx context.Context, origin *url.URL, set cookies.CookieSet) error {
	ctx, span := tracer.Start(ctx, "SetCookies")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(set)))

	err := b.Navigate(ctx, origin.String())
	if err != nil {
		return err
	}

	params := set.Browser(origin)
	err = b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set cookies")
		return fmt.Errorf("set browser cookies: %w", err)
	}
	return nil
}
