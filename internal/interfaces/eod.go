package interfaces

import "perpetual-engine/internal/types"

type EodSummarizer interface {
	SummarizeDay(day types.DailyStats) (csvPath string, err error)
}
