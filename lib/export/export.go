package export

import (
	"context"
	"gsexport/lib/browser"
	"gsexport/lib/telemetry"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("gsexport.lib.export")

// IsolateScript replaces the body with the online assignment container and
// drops the media attribute from stylesheets so print styles still apply.
const IsolateScript = `document.body.innerHTML = document.getElementsByClassName("onlineAssignment")[0].parentElement.innerHTML;
for (const link of document.head.getElementsByTagName("link")) {link.removeAttribute("media");}`

// IsOnlineAssignment reports whether the page contains an online assignment container.
func IsOnlineAssignment(content string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return false
	}
	return doc.Find("div.onlineAssignment").Length() > 0
}

const reservedFilenameChars = `<>:"/\|?*`

// SanitizeFilename makes a scraped title safe to use as a single path element.
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(reservedFilenameChars, r) {
			return '_'
		}
		return r
	}, name)
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "assignment"
	}
	return cleaned
}

// PdfPath joins folder with the sanitized name, appending .pdf when the name
// does not already end with it.
func PdfPath(folder, name string) string {
	filename := SanitizeFilename(name)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		filename += ".pdf"
	}
	return filepath.Join(folder, filename)
}

// Reporter receives progress text while a page is being exported.
type Reporter interface {
	Status(message string)
}

type nopReporter struct{}

func (nopReporter) Status(string) {}

var NopReporter Reporter = nopReporter{}

type Exporter struct {
	Driver browser.Driver
	Folder string
}

// Print isolates the assignment on the current page and prints it to path.
func (e Exporter) Print(ctx context.Context, path string, reporter Reporter) error {
	ctx, span := tracer.Start(ctx, "Print")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	if reporter == nil {
		reporter = NopReporter
	}

	reporter.Status("Updating page CSS")
	err := e.Driver.ExecuteScript(ctx, IsolateScript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to isolate assignment")
		return err
	}

	reporter.Status("Printing to " + path)
	_, err = e.Driver.PrintToPDF(ctx, browser.PrintOptions{Background: true}, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to print")
		return err
	}

	// callers report saved paths on their own output
	slog.DebugContext(ctx, "saved", "path", path)
	return nil
}

// ExportCurrentPage prints the loaded page to <folder>/<name>.pdf if it is an
// online assignment. ok is false when the page was skipped.
func (e Exporter) ExportCurrentPage(ctx context.Context, name string, reporter Reporter) (path string, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "ExportCurrentPage")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	content, err := e.Driver.PageSource(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read page source")
		return "", false, err
	}
	if !IsOnlineAssignment(content) {
		span.SetAttributes(attribute.Bool("skipped", true))
		return "", false, nil
	}

	path = PdfPath(e.Folder, name)
	err = e.Print(ctx, path, reporter)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}
