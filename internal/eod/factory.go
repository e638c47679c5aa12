package eod

import (
	"context"
	"path/filepath"

	"perpetual-engine/internal/eod/eodobs"
	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/tradelog"
	"perpetual-engine/internal/types"
)

// NewSummarizer reads journal and writes reports under <journal dir>/eod.
func NewSummarizer(journal *tradelog.Journal, logDir string) interfaces.EodSummarizer {
	return eodobs.Wrap(&eodSummarizer{
		journal: journal,
		outDir:  filepath.Join(logDir, "eod"),
	})
}

// Sink writes the end-of-day report when a day closes.
type Sink struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EventSink = (*Sink)(nil)

func NewSink(summarizer interfaces.EodSummarizer) *Sink {
	return &Sink{summarizer: summarizer}
}

func (s *Sink) Name() string { return "eod" }

func (s *Sink) Handle(ctx context.Context, ev types.Event) error {
	if ev.Kind != types.EventDayClosed || ev.Day == nil {
		return nil
	}
	_, err := s.summarizer.SummarizeDay(*ev.Day)
	return err
}
