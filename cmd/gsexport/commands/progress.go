package commands

import (
	"fmt"
	"gsexport/lib/export"
	"gsexport/lib/platforms/gradescope/assignments"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
)

// prettyProgress renders a crawl as one overall tracker plus one tracker for
// the assignment currently being exported.
type prettyProgress struct {
	out     io.Writer
	writer  progress.Writer
	overall *progress.Tracker
	current *progress.Tracker
}

func newPrettyProgress(out io.Writer) *prettyProgress {
	return &prettyProgress{out: out}
}

func (p *prettyProgress) Begin(total int) {
	pw := progress.NewWriter()
	pw.SetOutputWriter(p.out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(25)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(time.Millisecond * 100)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Colors = progress.StyleColorsExample
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Percentage = true

	p.writer = pw
	p.overall = &progress.Tracker{
		Message: "Crawling assignments",
		Total:   int64(total),
	}
	pw.AppendTracker(p.overall)
	go pw.Render()
}

func (p *prettyProgress) finishCurrent() {
	if p.current != nil && !p.current.IsDone() {
		p.current.MarkAsDone()
	}
	p.current = nil
}

func (p *prettyProgress) Step(a assignments.Assignment, outlineUrl string) export.Reporter {
	p.finishCurrent()
	p.overall.UpdateMessage(fmt.Sprintf("Crawling assignments (%s)", a.Name))
	p.overall.Increment(1)

	// a zero total renders as an indeterminate tracker
	p.current = &progress.Tracker{Message: "Visiting " + outlineUrl}
	p.writer.AppendTracker(p.current)
	return trackerReporter{tracker: p.current}
}

func (p *prettyProgress) End() {
	if p.writer == nil {
		return
	}
	p.finishCurrent()
	p.overall.MarkAsDone()
	p.writer.Stop()
	for p.writer.IsRenderInProgress() {
		time.Sleep(time.Millisecond * 50)
	}
}

type trackerReporter struct {
	tracker *progress.Tracker
}

func (r trackerReporter) Status(message string) {
	r.tracker.UpdateMessage(message)
}

// renderSummary prints what a crawl exported and what it skipped.
func renderSummary(out io.Writer, result assignments.Result) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Assignment", "Output"})
	for _, e := range result.Exported {
		t.AppendRow(table.Row{e.Assignment.Name, e.Path})
	}
	for _, a := range result.Skipped {
		t.AppendRow(table.Row{a.Name, "skipped (not an online assignment)"})
	}
	t.AppendFooter(table.Row{"Exported", fmt.Sprintf("%d of %d", len(result.Exported), len(result.Exported)+len(result.Skipped))})
	t.Render()
}
