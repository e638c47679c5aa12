package eodobs

import (
	"context"
	"time"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/trace"
	"perpetual-engine/internal/types"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(day types.DailyStats) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	start := time.Now()
	csvPath, err := oes.summarizer.SummarizeDay(day)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "EOD summary generation failed", err,
			"date", day.Date,
		)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No trades found for EOD summary",
			"date", day.Date,
		)
		return "", nil
	}

	logger.InfoSkip(ctx, 1, "EOD summary generated successfully",
		"date", day.Date,
		"csv_path", csvPath,
		"trades", day.Trades,
		"net_profit", day.NetProfit.StringFixed(2),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return csvPath, nil
}
