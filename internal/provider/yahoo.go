package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNoData is returned when the provider knows nothing about a symbol or
// returns no usable sessions for it.
var ErrNoData = errors.New("provider: no data for symbol")

// Close is one trading session of a symbol.
type Close struct {
	Date  time.Time
	Open  decimal.Decimal
	Close decimal.Decimal
}

type Descriptor struct {
	DisplayName string
	LogoURL     string
}

// Source is the price source boundary consumed by the quote cache.
type Source interface {
	FetchRecentCloses(ctx context.Context, symbol string, sessions int) ([]Close, error)
	FetchDescriptor(ctx context.Context, symbol string) (Descriptor, error)
}

// Yahoo is a Source backed by the Yahoo Finance v8 chart endpoint.
type Yahoo struct {
	cli          *http.Client
	baseURL      string
	logoTemplate string
}

func NewYahoo(baseURL string, timeout time.Duration, logoTemplate string) *Yahoo {
	return &Yahoo{
		cli:          &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		logoTemplate: logoTemplate,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchRecentCloses returns up to sessions most recent daily sessions, oldest
// first. Sessions with a missing close are skipped.
func (y *Yahoo) FetchRecentCloses(ctx context.Context, symbol string, sessions int) ([]Close, error) {
	if sessions <= 0 {
		sessions = 2
	}

	body, err := y.chart(ctx, symbol, "1d", "5d")
	if err != nil {
		return nil, err
	}

	var raw chartResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("provider: decode chart for %s: %w", symbol, err)
	}
	if raw.Chart.Error != nil {
		if raw.Chart.Error.Code == "Not Found" {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("provider: %s: %s", raw.Chart.Error.Code, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 || len(raw.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, ErrNoData
	}

	r := raw.Chart.Result[0]
	q := r.Indicators.Quote[0]

	closes := make([]Close, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil || *q.Close[i] <= 0 {
			continue
		}
		c := Close{
			Date:  time.Unix(ts, 0).UTC(),
			Close: decimal.NewFromFloat(*q.Close[i]),
		}
		if i < len(q.Open) && q.Open[i] != nil {
			c.Open = decimal.NewFromFloat(*q.Open[i])
		}
		closes = append(closes, c)
	}
	if len(closes) == 0 {
		return nil, ErrNoData
	}

	sort.Slice(closes, func(i, j int) bool { return closes[i].Date.Before(closes[j].Date) })
	if len(closes) > sessions {
		closes = closes[len(closes)-sessions:]
	}
	return closes, nil
}

// FetchDescriptor reads the company display name from the chart metadata.
func (y *Yahoo) FetchDescriptor(ctx context.Context, symbol string) (Descriptor, error) {
	body, err := y.chart(ctx, symbol, "1d", "1d")
	if err != nil {
		return Descriptor{}, err
	}

	var jobj any
	if err := json.Unmarshal(body, &jobj); err != nil {
		return Descriptor{}, fmt.Errorf("provider: decode meta for %s: %w", symbol, err)
	}

	name := firstString(jobj,
		"$.chart.result[0].meta.longName",
		"$.chart.result[0].meta.shortName",
	)
	if name == "" {
		return Descriptor{}, ErrNoData
	}

	d := Descriptor{DisplayName: name}
	if y.logoTemplate != "" {
		d.LogoURL = fmt.Sprintf(y.logoTemplate, models.NormalizeSymbol(symbol))
	}
	return d, nil
}

func (y *Yahoo) chart(ctx context.Context, symbol, interval, rng string) ([]byte, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrNoData
	}

	addr := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		y.baseURL, url.PathEscape(symbol), interval, rng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "stock-trading-simulator/1.0")

	resp, err := y.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: yahoo http %d for %s", resp.StatusCode, symbol)
	}

	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return nil, fmt.Errorf("provider: read body for %s: %w", symbol, err)
	}
	return buf, nil
}

// firstString returns the first non-empty string found at any of the paths.
func firstString(jobj any, paths ...string) string {
	for _, path := range paths {
		jval, err := jsonpath.Get(path, jobj)
		if err != nil {
			continue
		}
		// jsonpath may answer with a list of one element.
		if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
			jval = jlist[0]
		}
		if s, ok := jval.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
