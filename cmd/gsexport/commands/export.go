package commands

import (
	"context"
	"errors"
	"fmt"
	"gsexport/lib/browser"
	"gsexport/lib/export"
	"gsexport/lib/platforms/gradescope/assignments"
	"io"
	"log/slog"
	"net/url"
)

type prompter interface {
	Prompt(label string) (string, error)
}

// session is everything the two export modes need once logged in.
type session struct {
	driver   browser.Driver
	baseUrl  *url.URL
	folder   string
	prompter prompter
	progress assignments.Progress
	out      io.Writer
}

// logReporter sends export status text to the default logger.
type logReporter struct {
	ctx context.Context
}

func (r logReporter) Status(message string) {
	slog.InfoContext(r.ctx, message)
}

func (s session) exporter() export.Exporter {
	return export.Exporter{Driver: s.driver, Folder: s.folder}
}

// exportSingle keeps asking for a url until it lands on an online
// assignment, then prints it to a file named by the user.
func exportSingle(ctx context.Context, s session) (string, error) {
	reporter := logReporter{ctx: ctx}
	for {
		target, err := s.prompter.Prompt("Gradescope online assignment URL")
		if err != nil {
			return "", err
		}
		if target == "" {
			continue
		}

		slog.InfoContext(ctx, "visiting", "url", target)
		err = s.driver.Navigate(ctx, target)
		if err != nil {
			return "", err
		}
		reporter.Status("Checking whether this is an online assignment")
		content, err := s.driver.PageSource(ctx)
		if err != nil {
			return "", err
		}
		if export.IsOnlineAssignment(content) {
			break
		}
		fmt.Fprintln(
			s.out,
			"Not an online assignment link; make sure you give a link to the outline page (ending in /outline/edit).",
		)
	}

	name, err := s.prompter.Prompt("Output PDF filename")
	if err != nil {
		return "", err
	}
	path := export.PdfPath(s.folder, name)

	err = s.exporter().Print(ctx, path, reporter)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(s.out, "Saved to %s\n", path)
	return path, nil
}

// promptCourseUrl keeps asking until the answer can be normalized into an
// assignment listing url.
func promptCourseUrl(s session) (string, error) {
	for {
		raw, err := s.prompter.Prompt("Gradescope course URL")
		if err != nil {
			return "", err
		}
		courseUrl, err := assignments.NormalizeCourseUrl(s.baseUrl, raw)
		if errors.Is(err, assignments.ErrInvalidCourseUrl) {
			fmt.Fprintln(s.out, "Invalid course URL")
			continue
		}
		if err != nil {
			return "", err
		}
		return courseUrl, nil
	}
}

func exportCourse(ctx context.Context, s session) (assignments.Result, error) {
	courseUrl, err := promptCourseUrl(s)
	if err != nil {
		return assignments.Result{}, err
	}

	crawler := assignments.Crawler{
		Driver:   s.driver,
		Exporter: s.exporter(),
		BaseUrl:  s.baseUrl,
		Progress: s.progress,
	}
	// an aborted crawl reports nothing about the files it did write
	result, err := crawler.Crawl(ctx, courseUrl)
	if err != nil {
		return assignments.Result{}, err
	}
	for _, e := range result.Exported {
		fmt.Fprintf(s.out, "Saved to %s\n", e.Path)
	}
	return result, nil
}
