package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/vm-pricedb/internal/progress"
)

// BarSink draws a terminal progress bar over region completions.
type BarSink struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
	run [16]byte
}

// NewBarSink renders to out, or stderr when out is nil.
func NewBarSink(out io.Writer) *BarSink {
	if out == nil {
		out = os.Stderr
	}
	return &BarSink{out: out}
}

// Consume starts a bar on RUN_START, advances it per region and finishes it
// when the run ends. Events of other runs are ignored while a bar is active.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.bar = s.newBar(evt.Total)
			s.run = evt.RunID
		case progress.StageRegionDone, progress.StageRegionError:
			if s.bar == nil || evt.RunID != s.run {
				continue
			}
			s.bar.Describe(fmt.Sprintf("%-20s", evt.Region))
			if err := s.bar.Add(1); err != nil {
				return fmt.Errorf("advance progress bar: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if s.bar == nil || evt.RunID != s.run {
				continue
			}
			if err := s.bar.Finish(); err != nil {
				return fmt.Errorf("finish progress bar: %w", err)
			}
			s.bar = nil
		}
	}
	return nil
}

// Current reports the regions counted by the active bar, or -1 when idle.
func (s *BarSink) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return -1
	}
	return int64(s.bar.State().CurrentNum)
}

// Close finishes any bar left open.
func (s *BarSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return nil
	}
	err := s.bar.Finish()
	s.bar = nil
	if err != nil {
		return fmt.Errorf("finish progress bar: %w", err)
	}
	return nil
}

func (s *BarSink) newBar(total int) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetDescription("regions"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("regions"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
