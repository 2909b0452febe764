package assignments

import (
	"context"
	"errors"
	"fmt"
	"gsexport/lib/htmlutil"
	"gsexport/lib/telemetry"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
)

var tracer = telemetry.Tracer("gsexport.lib.platforms.gradescope.assignments")

var ErrInvalidCourseUrl = errors.New("invalid course url")

// Assignment is a single row of a course's assignment listing.
type Assignment struct {
	Name string
	// Url is the href exactly as it appears on the listing, usually relative.
	Url string
}

var courseIdRegex = regexp.MustCompile(`^.*/courses/(\d+)`)

// NormalizeCourseUrl turns anything that points into a course into the
// course's assignment listing. urls that already mention assignments are
// returned as is.
func NormalizeCourseUrl(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "assignments") {
		return raw, nil
	}
	groups := courseIdRegex.FindStringSubmatch(raw)
	if len(groups) < 2 || groups[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCourseUrl, raw)
	}
	return base.JoinPath("courses", groups[1], "assignments").String(), nil
}

// OutlineUrl resolves an assignment href against base and points it at the
// assignment's outline/edit page.
func OutlineUrl(base *url.URL, href string) (string, error) {
	assignmentUrl, err := base.Parse(href)
	if err != nil {
		return "", err
	}
	outline := *assignmentUrl
	outline.Path = strings.TrimSuffix(assignmentUrl.Path, "/") + "/outline/edit"
	outline.RawPath = ""
	return purell.NormalizeURL(
		&outline,
		purell.FlagsSafe|
			purell.FlagRemoveDuplicateSlashes|
			purell.FlagRemoveFragment,
	), nil
}

// ParseAssignments extracts every assignment link from a course's assignment listing.
func ParseAssignments(ctx context.Context, content string) ([]Assignment, error) {
	ctx, span := tracer.Start(ctx, "ParseAssignments")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	anchors := htmlutil.GetAnchors(ctx, doc.Find("div.table--primaryLink a"))
	out := make([]Assignment, len(anchors))
	for i, a := range anchors {
		out[i] = Assignment{Name: a.Name, Url: a.Href}
	}
	return out, nil
}
