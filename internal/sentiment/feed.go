package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
)

const cacheKey = "fear_greed"

// Reading is one fear/greed index value in [0,100].
type Reading struct {
	Value          float64   `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// Feed fetches the crypto fear/greed index from an alternative.me style
// JSON endpoint and caches it.
type Feed struct {
	url     string
	timeout time.Duration
	cache   *readingCache
}

var _ interfaces.FearGreedSource = (*Feed)(nil)

func NewFeed(url string, timeout, ttl time.Duration) *Feed {
	return &Feed{
		url:     url,
		timeout: timeout,
		cache:   newReadingCache(ttl),
	}
}

type fngResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
	} `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

// FearGreed returns the current index value.
func (f *Feed) FearGreed(ctx context.Context) (float64, error) {
	r, err := f.Latest(ctx)
	if err != nil {
		return 0, err
	}
	return r.Value, nil
}

// Latest returns the cached reading or fetches a new one. When the fetch
// fails and an expired reading exists, the expired reading is returned.
func (f *Feed) Latest(ctx context.Context) (Reading, error) {
	if r, ok := f.cache.get(cacheKey); ok {
		return r, nil
	}
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	r, err := f.fetch(ctx)
	if err != nil {
		if old, ok := f.cache.stale(cacheKey); ok {
			logger.Warn(ctx, "Fear/greed fetch failed, using expired reading", "error", err, "value", old.Value)
			return old, nil
		}
		return Reading{}, err
	}
	f.cache.set(cacheKey, r)
	return r, nil
}

func (f *Feed) fetch(ctx context.Context) (Reading, error) {
	var (
		reading  Reading
		parseErr error
		visitErr error
	)

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
		colly.Async(false),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(f.timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "application/json")
	})

	c.OnResponse(func(r *colly.Response) {
		reading, parseErr = parseReading(r.Body)
	})

	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("fear/greed request failed (status %d): %w", r.StatusCode, err)
	})

	err := c.Visit(f.url)
	c.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Reading{}, ctxErr
	}
	if err != nil {
		return Reading{}, fmt.Errorf("failed to visit %s: %w", f.url, err)
	}
	if visitErr != nil {
		return Reading{}, visitErr
	}
	if parseErr != nil {
		return Reading{}, parseErr
	}
	logger.Debug(ctx, "Fear/greed index fetched", "value", reading.Value, "classification", reading.Classification)
	return reading, nil
}

func parseReading(body []byte) (Reading, error) {
	var resp fngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Reading{}, fmt.Errorf("decode fear/greed response: %w", err)
	}
	if resp.Metadata.Error != nil && *resp.Metadata.Error != "" {
		return Reading{}, fmt.Errorf("fear/greed api error: %s", *resp.Metadata.Error)
	}
	if len(resp.Data) == 0 {
		return Reading{}, errors.New("fear/greed response has no data")
	}

	d := resp.Data[0]
	v, err := strconv.ParseFloat(d.Value, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid fear/greed value %q: %w", d.Value, err)
	}
	if v < 0 || v > 100 {
		return Reading{}, fmt.Errorf("fear/greed value %v outside [0,100]", v)
	}

	r := Reading{Value: v, Classification: d.ValueClassification}
	if ts, err := strconv.ParseInt(d.Timestamp, 10, 64); err == nil {
		r.Timestamp = time.Unix(ts, 0).UTC()
	}
	return r, nil
}
