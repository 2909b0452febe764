package assignments

import (
	"context"
	"fmt"
	"gsexport/lib/browser"
	"gsexport/lib/export"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Progress is notified as a crawl moves through the assignment listing.
type Progress interface {
	Begin(total int)
	// Step starts work on an assignment, the returned reporter receives the
	// status text for it until the next Step or End.
	Step(a Assignment, outlineUrl string) export.Reporter
	End()
}

type nopProgress struct{}

func (nopProgress) Begin(int)                               {}
func (nopProgress) Step(Assignment, string) export.Reporter { return export.NopReporter }
func (nopProgress) End()                                    {}

var NopProgress Progress = nopProgress{}

type Exported struct {
	Assignment Assignment
	Path       string
}

type Result struct {
	Exported []Exported
	// Skipped holds assignments whose outline was not an online assignment.
	Skipped []Assignment
}

type Crawler struct {
	Driver   browser.Driver
	Exporter export.Exporter
	BaseUrl  *url.URL
	Progress Progress
}

// Crawl visits a course's assignment listing and exports every online
// assignment in it. the first error aborts the crawl, the partial result is
// still returned.
func (c Crawler) Crawl(ctx context.Context, courseUrl string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Crawler:Crawl")
	defer span.End()
	span.SetAttributes(attribute.String("course_url", courseUrl))

	progress := c.Progress
	if progress == nil {
		progress = NopProgress
	}

	listingUrl, err := c.BaseUrl.Parse(courseUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve course url")
		return Result{}, err
	}

	slog.InfoContext(ctx, "visiting", "url", listingUrl.String())
	err = c.Driver.Navigate(ctx, listingUrl.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to visit course")
		return Result{}, err
	}
	content, err := c.Driver.PageSource(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read course listing")
		return Result{}, err
	}

	list, err := ParseAssignments(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse course listing")
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("assignments", len(list)))
	slog.DebugContext(ctx, "found assignments", "count", len(list))

	var result Result
	progress.Begin(len(list))
	defer progress.End()

	for _, a := range list {
		outline, err := OutlineUrl(c.BaseUrl, a.Url)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to build outline url")
			return result, fmt.Errorf("assignment %q: %w", a.Name, err)
		}
		reporter := progress.Step(a, outline)

		err = c.Driver.Navigate(ctx, outline)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to visit outline")
			return result, fmt.Errorf("assignment %q: %w", a.Name, err)
		}

		path, ok, err := c.Exporter.ExportCurrentPage(ctx, a.Name, reporter)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to export assignment")
			return result, fmt.Errorf("assignment %q: %w", a.Name, err)
		}
		if !ok {
			slog.DebugContext(ctx, "not an online assignment", "name", a.Name, "url", outline)
			result.Skipped = append(result.Skipped, a)
			continue
		}
		result.Exported = append(result.Exported, Exported{Assignment: a, Path: path})
	}

	return result, nil
}
