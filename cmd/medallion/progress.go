package main

import (
	"fmt"
	"io"
	"time"

	"medallion/internal/pipeline"

	"github.com/schollz/progressbar/v3"
)

// progress renders pipeline steps as a progress bar.
type progress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

// Step is the pipeline progress callback. The bar is created on the first
// event, when the step total is known.
func (p *progress) Step(e pipeline.Event) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("pipeline"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	p.bar.Describe(fmt.Sprintf("%-6s %s", e.Layer, e.Step))
	_ = p.bar.Add(1)
}

// Finish completes the bar and moves to a new line.
func (p *progress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.w)
}
