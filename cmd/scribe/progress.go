package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/scribe/pkg/pipeline"
)

var stageLabels = map[pipeline.Stage]string{
	pipeline.StageResolve:   "🔗 Resolving URL...",
	pipeline.StageFetch:     "📄 Fetching content...",
	pipeline.StageQueries:   "🧠 Generating search queries...",
	pipeline.StageSearch:    "🔍 Searching and summarizing...",
	pipeline.StageCompose:   "✍️  Writing the post...",
	pipeline.StageFinalize:  "🔗 Adding links and description...",
	pipeline.StageTranslate: "🌐 Translating...",
	pipeline.StageArchive:   "💾 Archiving...",
}

// progress drives one spinner whose description follows the running stage.
type progress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done chan struct{}
	wg   sync.WaitGroup
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func newProgress() *progress {
	return &progress{
		bar:  getSpinner("Starting..."),
		done: make(chan struct{}),
	}
}

func (p *progress) start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.mu.Lock()
				p.bar.Add(1)
				p.mu.Unlock()
			}
		}
	}()
}

func (p *progress) stop() {
	close(p.done)
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish()
	fmt.Print("\r")
}

func (p *progress) observe(e pipeline.Event) {
	label, ok := stageLabels[e.Stage]
	if !ok {
		label = string(e.Stage)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case pipeline.EventStarted:
		p.bar.Describe(color.CyanString(label))
	case pipeline.EventFinished:
		p.bar.Clear()
		color.Green("\r✓ %s (%s)", label, e.Elapsed.Round(100*time.Millisecond))
	case pipeline.EventFailed:
		p.bar.Clear()
		color.Red("\r✗ %s", label)
	}
}
