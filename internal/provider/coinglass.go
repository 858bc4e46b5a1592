package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/blockcaptain/jackwatch/internal/logger"
	"github.com/blockcaptain/jackwatch/internal/models"
)

// CoinGlass provides access to the CoinGlass v4 API.
type CoinGlass struct {
	baseURL    string
	apiKey     string
	exchange   string
	maxSymbols int
	symbols    []string
	httpClient *http.Client
}

// NewCoinGlass creates a CoinGlass client. exchange scopes the per-symbol
// endpoints (open interest, funding, ratios); maxSymbols caps how many coins
// the position snapshot walks; symbols is the fixed pair list the whale
// snapshot observes.
func NewCoinGlass(baseURL, apiKey, exchange string, maxSymbols int, symbols []string, timeout time.Duration) *CoinGlass {
	if baseURL == "" {
		baseURL = "https://open-api-v4.coinglass.com"
	}
	if maxSymbols <= 0 {
		maxSymbols = 200
	}
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}
	return &CoinGlass{
		baseURL:    baseURL,
		apiKey:     apiKey,
		exchange:   exchange,
		maxSymbols: maxSymbols,
		symbols:    symbols,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CoinGlass) headers() map[string]string {
	return map[string]string{"CG-API-KEY": c.apiKey}
}

// checkCode validates the CoinGlass envelope; the API reports both "0" and
// "200" as success depending on the endpoint.
func checkCode(body []byte) error {
	code := gjson.GetBytes(body, "code")
	if !code.Exists() {
		return nil
	}
	switch code.String() {
	case "0", "200":
		return nil
	}
	return fmt.Errorf("api error %s: %s", code.String(), gjson.GetBytes(body, "msg").String())
}

// PositionSnapshot observes the net directional exposure per coin. Exposure
// is the latest open interest (millions USD) signed by the direction of the
// 15m price move, so a sign flip between runs means the crowd changed sides.
// Coins whose open interest history cannot be read are skipped, not zeroed.
func (c *CoinGlass) PositionSnapshot(ctx context.Context) ([]models.Observation, error) {
	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/futures/coins-price-change", c.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch coin price changes: %w", err)
	}
	if err := checkCode(body); err != nil {
		return nil, err
	}

	coins := gjson.GetBytes(body, "data").Array()
	if len(coins) == 0 {
		coins = gjson.ParseBytes(body).Array()
	}
	if len(coins) > c.maxSymbols {
		coins = coins[:c.maxSymbols]
	}

	now := time.Now()
	observations := make([]models.Observation, 0, len(coins))
	skipped := 0

	for _, coin := range coins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		symbol := coinSymbol(coin)
		if symbol == "" {
			continue
		}
		priceChange := priceChange15m(coin)

		oi, oiChange, err := c.openInterest15m(ctx, symbol)
		if err != nil {
			skipped++
			continue
		}

		exposure := oi / 1e6
		if priceChange < 0 {
			exposure = -exposure
		} else if priceChange == 0 {
			exposure = 0
		}

		observations = append(observations, models.Observation{
			Symbol: symbol,
			Fields: map[string]float64{
				"exposure":         exposure,
				"oi_change_15m":    oiChange,
				"price_change_15m": priceChange,
			},
			FetchedAt: now,
		})
	}

	if skipped > 0 {
		logger.Debug("Position snapshot: %d coin(s) skipped for missing open interest", skipped)
	}
	return observations, nil
}

// openInterest15m returns the latest open interest close and its change over
// the last 15m candle, in percent.
func (c *CoinGlass) openInterest15m(ctx context.Context, symbol string) (float64, float64, error) {
	q := url.Values{}
	q.Set("exchange", c.exchange)
	q.Set("symbol", symbol+"USDT")
	q.Set("interval", "m15")

	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/futures/open-interest/history?"+q.Encode(), c.headers())
	if err != nil {
		return 0, 0, err
	}

	candles := gjson.GetBytes(body, "data").Array()
	if len(candles) == 0 {
		candles = gjson.GetBytes(body, "list").Array()
	}
	if len(candles) < 2 {
		return 0, 0, fmt.Errorf("not enough open interest history for %s", symbol)
	}

	last := candleValue(candles[len(candles)-1])
	prev := candleValue(candles[len(candles)-2])
	if last == 0 || prev == 0 {
		return 0, 0, fmt.Errorf("empty open interest candle for %s", symbol)
	}
	return last, (last - prev) / prev * 100, nil
}

func candleValue(candle gjson.Result) float64 {
	if v := candle.Get("close"); v.Exists() && v.Float() != 0 {
		return v.Float()
	}
	return candle.Get("open").Float()
}

func coinSymbol(coin gjson.Result) string {
	for _, key := range []string{"symbol", "pair", "name", "coin"} {
		if v := coin.Get(key); v.Exists() && v.String() != "" {
			return strings.TrimSuffix(v.String(), "USDT")
		}
	}
	return ""
}

func priceChange15m(coin gjson.Result) float64 {
	for _, key := range []string{"price_change_percent_15m", "price_change_percent_1h", "price_change_percent_24h"} {
		if v := coin.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

// FundingSnapshot observes the current funding rate per symbol on the
// configured exchange, in percent.
func (c *CoinGlass) FundingSnapshot(ctx context.Context) ([]models.Observation, error) {
	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/futures/funding-rate/exchange-list", c.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch funding rates: %w", err)
	}
	if err := checkCode(body); err != nil {
		return nil, err
	}

	now := time.Now()
	var observations []models.Observation
	seen := make(map[string]bool)

	for _, row := range gjson.GetBytes(body, "data").Array() {
		symbol := strings.TrimSuffix(row.Get("symbol").String(), "USDT")
		if symbol == "" {
			continue
		}
		// Each row carries stablecoin- and token-margined lists; prefer the
		// stablecoin-margined rate and ignore the symbol if already taken.
		for _, listKey := range []string{"stablecoin_margin_list", "token_margin_list"} {
			for _, entry := range row.Get(listKey).Array() {
				if entry.Get("exchange").String() != c.exchange {
					continue
				}
				rate := entry.Get("funding_rate")
				if !rate.Exists() || seen[symbol] {
					continue
				}
				seen[symbol] = true
				observations = append(observations, models.Observation{
					Symbol: symbol,
					Fields: map[string]float64{
						"funding_rate":     rate.Float(),
						"funding_interval": entry.Get("funding_rate_interval").Float(),
					},
					FetchedAt: now,
				})
			}
		}
	}

	return observations, nil
}

// CalendarItems observes upcoming and released economic-calendar entries at
// or above minImportance. Items carry stable provider identifiers for dedup.
func (c *CoinGlass) CalendarItems(ctx context.Context, minImportance int) ([]models.Observation, error) {
	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/calendar/economic-data", c.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch economic calendar: %w", err)
	}
	if err := checkCode(body); err != nil {
		return nil, err
	}

	now := time.Now()
	var observations []models.Observation

	for _, item := range gjson.GetBytes(body, "data").Array() {
		if int(item.Get("importance").Int()) < minImportance {
			continue
		}

		id := item.Get("id").String()
		if id == "" {
			id = item.Get("calendar_id").String()
		}
		if id == "" {
			id = fmt.Sprintf("%s_%d", item.Get("calendar_name").String(), item.Get("publish_timestamp").Int())
		}

		title := item.Get("calendar_name").String()
		if title == "" {
			title = item.Get("name").String()
		}

		observations = append(observations, models.Observation{
			Symbol: item.Get("country").String(),
			ID:     id,
			Text: map[string]string{
				"title":    title,
				"country":  item.Get("country").String(),
				"forecast": item.Get("forecast_value").String(),
				"previous": item.Get("previous_value").String(),
			},
			FetchedAt: now,
		})
	}

	return observations, nil
}

// WhaleSnapshot observes the long/short positioning of large accounts per
// configured pair: the top-trader position ratio, with the global account
// ratio alongside it for context. Pairs whose ratio history cannot be read
// are skipped, not zeroed.
func (c *CoinGlass) WhaleSnapshot(ctx context.Context) ([]models.Observation, error) {
	now := time.Now()
	observations := make([]models.Observation, 0, len(c.symbols))
	skipped := 0

	for _, pair := range c.symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		top, err := c.latestRatio(ctx, "/api/futures/top-long-short-position-ratio/history", pair, "top_position_long_short_ratio")
		if err != nil {
			skipped++
			continue
		}

		fields := map[string]float64{"top_position_ratio": top}
		if global, err := c.latestRatio(ctx, "/api/futures/global-long-short-account-ratio/history", pair, "global_account_long_short_ratio"); err == nil {
			fields["global_ratio"] = global
		}

		observations = append(observations, models.Observation{
			Symbol:    strings.TrimSuffix(pair, "USDT"),
			Fields:    fields,
			FetchedAt: now,
		})
	}

	if skipped > 0 {
		logger.Debug("Whale snapshot: %d pair(s) skipped for missing ratio history", skipped)
	}
	if len(observations) == 0 && len(c.symbols) > 0 {
		return nil, fmt.Errorf("no ratio history for any of %d configured pair(s)", len(c.symbols))
	}
	return observations, nil
}

// latestRatio fetches a ratio history endpoint and returns the value of field
// in the most recent data point.
func (c *CoinGlass) latestRatio(ctx context.Context, path, pair, field string) (float64, error) {
	q := url.Values{}
	q.Set("exchange", c.exchange)
	q.Set("symbol", pair)
	q.Set("interval", "h1")

	body, err := doRequest(ctx, c.httpClient, c.baseURL+path+"?"+q.Encode(), c.headers())
	if err != nil {
		return 0, err
	}
	if err := checkCode(body); err != nil {
		return 0, err
	}

	points := gjson.GetBytes(body, "data").Array()
	if len(points) == 0 {
		return 0, fmt.Errorf("no ratio history for %s", pair)
	}
	v := points[len(points)-1].Get(field)
	if !v.Exists() {
		return 0, fmt.Errorf("ratio history for %s is missing %s", pair, field)
	}
	return v.Float(), nil
}

// HyperliquidAlerts observes large Hyperliquid position openings at or above
// minNotional USD. Each alert carries a stable identifier derived from its
// timestamp, symbol, and notional so replays deduplicate.
func (c *CoinGlass) HyperliquidAlerts(ctx context.Context, minNotional float64) ([]models.Observation, error) {
	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/hyperliquid/whale-alert", c.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hyperliquid whale alerts: %w", err)
	}
	if err := checkCode(body); err != nil {
		return nil, err
	}

	now := time.Now()
	var observations []models.Observation

	for _, alert := range gjson.GetBytes(body, "data").Array() {
		notional := alertNotional(alert)
		if notional < minNotional {
			continue
		}

		symbol := alert.Get("symbol").String()
		if symbol == "" {
			symbol = alert.Get("coin").String()
		}
		ts := alert.Get("time").Int()
		if ts == 0 {
			ts = alert.Get("timestamp").Int()
		}

		side := "position"
		for _, key := range []string{"position_side", "side"} {
			switch strings.ToLower(alert.Get(key).String()) {
			case "long", "buy":
				side = "long"
			case "short", "sell":
				side = "short"
			}
			if side != "position" {
				break
			}
		}

		observations = append(observations, models.Observation{
			Symbol: symbol,
			ID:     fmt.Sprintf("%d_%s_%.0f", ts, symbol, notional),
			Text: map[string]string{
				"title":  fmt.Sprintf("%s whale %s: $%.1fM", symbol, side, notional/1e6),
				"source": "Hyperliquid",
			},
			Fields:    map[string]float64{"notional_value": notional},
			FetchedAt: now,
		})
	}

	return observations, nil
}

// alertNotional reads the USD size of a whale alert; the API has shipped the
// value under several names.
func alertNotional(alert gjson.Result) float64 {
	for _, key := range []string{"notional_value", "notionalValue", "value", "size", "amount"} {
		if v := alert.Get(key); v.Exists() && v.Float() != 0 {
			return v.Float()
		}
	}
	return 0
}
