package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"keel/infra/backoff"
)

// instrumentPayload is the admin service's wire shape. Rates arrive as
// strings and are converted explicitly; a malformed instrument fails
// the whole refresh rather than being silently dropped.
type instrumentPayload struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"base_asset"`
	QuoteAsset   string `json:"quote_asset"`
	MakerFeeRate string `json:"maker_fee_rate"`
	TakerFeeRate string `json:"taker_fee_rate"`
	ContractSize string `json:"contract_size"`
	PriceTick    string `json:"price_tick"`
	Status       string `json:"status"`
}

func (p instrumentPayload) instrument() (Instrument, error) {
	maker, err := decimal.NewFromString(p.MakerFeeRate)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %s maker fee rate: %w", p.ID, err)
	}
	taker, err := decimal.NewFromString(p.TakerFeeRate)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %s taker fee rate: %w", p.ID, err)
	}
	size, err := decimal.NewFromString(p.ContractSize)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %s contract size: %w", p.ID, err)
	}
	tick, err := decimal.NewFromString(p.PriceTick)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %s price tick: %w", p.ID, err)
	}
	return Instrument{
		ID:           p.ID,
		Symbol:       p.Symbol,
		BaseAsset:    p.BaseAsset,
		QuoteAsset:   p.QuoteAsset,
		MakerFeeRate: maker,
		TakerFeeRate: taker,
		ContractSize: size,
		PriceTick:    tick,
		Status:       p.Status,
	}, nil
}

// Loader populates a Directory from the external admin service.
type Loader struct {
	url    string
	client *http.Client
	dir    *Directory
	logger *zap.Logger
}

func NewLoader(url string, dir *Directory, logger *zap.Logger) *Loader {
	return &Loader{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		dir:    dir,
		logger: logger,
	}
}

// Refresh fetches the instrument list once and swaps it into the
// directory. Used at boot and by the operational reload endpoint.
func (l *Loader) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch instruments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch instruments: unexpected status %d", resp.StatusCode)
	}

	var payload []instrumentPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode instruments: %w", err)
	}

	instruments := make([]Instrument, 0, len(payload))
	for _, p := range payload {
		ins, err := p.instrument()
		if err != nil {
			return err
		}
		instruments = append(instruments, ins)
	}

	l.dir.Replace(instruments)
	return nil
}

// RefreshWithRetry retries until the directory loads or ctx is done.
// Recovery cannot proceed without fee parameters, so boot blocks here.
func (l *Loader) RefreshWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := l.Refresh(ctx)
		if err == nil {
			return nil
		}
		delay := backoff.Delay(attempt)
		l.logger.Warn("instrument refresh failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("instrument refresh aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
