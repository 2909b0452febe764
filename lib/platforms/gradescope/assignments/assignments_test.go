package assignments

import (
	"context"
	"gsexport/lib/browser/browsertest"
	"gsexport/lib/export"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	_ "embed"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

//go:embed course_assignments_test.html
var courseAssignmentsTest string

const onlinePage = `<html><head></head><body><div><div class="onlineAssignment">Q1</div></div></body></html>`

func baseUrl(t testing.TB) *url.URL {
	u, err := url.Parse("https://www.gradescope.com")
	require.NoError(t, err)
	return u
}

func TestNormalizeCourseUrl(t *testing.T) {
	base := baseUrl(t)

	got, err := NormalizeCourseUrl(base, "https://host/courses/12345")
	require.NoError(t, err)
	require.Equal(t, "https://www.gradescope.com/courses/12345/assignments", got)

	got, err = NormalizeCourseUrl(base, "  https://www.gradescope.com/courses/987/roster ")
	require.NoError(t, err)
	require.Equal(t, "https://www.gradescope.com/courses/987/assignments", got)

	host, err := url.Parse("https://host")
	require.NoError(t, err)
	got, err = NormalizeCourseUrl(host, "https://host/courses/12345")
	require.NoError(t, err)
	require.Equal(t, "https://host/courses/12345/assignments", got)

	already := "https://www.gradescope.com/courses/12345/assignments"
	got, err = NormalizeCourseUrl(base, already)
	require.NoError(t, err)
	require.Equal(t, already, got)

	for _, bad := range []string{"", "not a url", "https://www.gradescope.com/courses/", "https://www.gradescope.com/account"} {
		_, err = NormalizeCourseUrl(base, bad)
		require.ErrorIs(t, err, ErrInvalidCourseUrl, bad)
	}
}

func TestOutlineUrl(t *testing.T) {
	base := baseUrl(t)

	cases := map[string]string{
		"/courses/1/assignments/2":                           "https://www.gradescope.com/courses/1/assignments/2/outline/edit",
		"/courses/1/assignments/2/":                          "https://www.gradescope.com/courses/1/assignments/2/outline/edit",
		"https://www.gradescope.com/courses/1/assignments/3": "https://www.gradescope.com/courses/1/assignments/3/outline/edit",
		"/courses/1//assignments/4#top":                      "https://www.gradescope.com/courses/1/assignments/4/outline/edit",
	}
	for href, want := range cases {
		got, err := OutlineUrl(base, href)
		require.NoError(t, err)
		require.Equal(t, want, got, href)
	}
}

func TestParseAssignments(t *testing.T) {
	list, err := ParseAssignments(context.Background(), courseAssignmentsTest)
	require.NoError(t, err)

	want := []Assignment{
		{Name: "Homework 1", Url: "/courses/12345/assignments/111"},
		{Name: "Midterm: Part A", Url: "/courses/12345/assignments/222/"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("unexpected assignments (-want +got):\n%s", diff)
	}
}

func TestParseAssignmentsEmpty(t *testing.T) {
	list, err := ParseAssignments(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, list)
}

type recordingProgress struct {
	total int
	steps []string
	ended bool
}

func (p *recordingProgress) Begin(total int) { p.total = total }
func (p *recordingProgress) Step(a Assignment, outline string) export.Reporter {
	p.steps = append(p.steps, a.Name)
	return export.NopReporter
}
func (p *recordingProgress) End() { p.ended = true }

func TestCrawl(t *testing.T) {
	listing := "https://www.gradescope.com/courses/12345/assignments"
	driver := browsertest.New(map[string]string{
		listing: courseAssignmentsTest,
		"https://www.gradescope.com/courses/12345/assignments/111/outline/edit": onlinePage,
		"https://www.gradescope.com/courses/12345/assignments/222/outline/edit": `<html><body>pdf upload</body></html>`,
	})
	folder := t.TempDir()
	progress := &recordingProgress{}

	crawler := Crawler{
		Driver:   driver,
		Exporter: export.Exporter{Driver: driver, Folder: folder},
		BaseUrl:  baseUrl(t),
		Progress: progress,
	}
	result, err := crawler.Crawl(context.Background(), listing)
	require.NoError(t, err)

	require.Equal(t, []string{
		listing,
		"https://www.gradescope.com/courses/12345/assignments/111/outline/edit",
		"https://www.gradescope.com/courses/12345/assignments/222/outline/edit",
	}, driver.Visited)
	require.Equal(t, []string{filepath.Join(folder, "Homework 1.pdf")}, driver.Printed)

	require.Len(t, result.Exported, 1)
	require.Equal(t, "Homework 1", result.Exported[0].Assignment.Name)
	require.Equal(t, []Assignment{{Name: "Midterm: Part A", Url: "/courses/12345/assignments/222/"}}, result.Skipped)

	require.Equal(t, 2, progress.total)
	require.Equal(t, []string{"Homework 1", "Midterm: Part A"}, progress.steps)
	require.True(t, progress.ended)

	_, err = os.Stat(filepath.Join(folder, "Homework 1.pdf"))
	require.NoError(t, err)
}

func TestCrawlAbortsOnExportError(t *testing.T) {
	listing := "https://www.gradescope.com/courses/12345/assignments"
	driver := browsertest.New(map[string]string{
		listing: courseAssignmentsTest,
		"https://www.gradescope.com/courses/12345/assignments/111/outline/edit": onlinePage,
		"https://www.gradescope.com/courses/12345/assignments/222/outline/edit": onlinePage,
	})
	driver.PrintErr = os.ErrPermission

	crawler := Crawler{
		Driver:   driver,
		Exporter: export.Exporter{Driver: driver, Folder: t.TempDir()},
		BaseUrl:  baseUrl(t),
	}
	result, err := crawler.Crawl(context.Background(), listing)
	require.ErrorIs(t, err, os.ErrPermission)
	require.Empty(t, result.Exported)
	// the second assignment is never visited
	require.Len(t, driver.Visited, 2)
}
