package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"coinetl/internal/models"
)

const marketsPath = "/api/v3/coins/markets"

// coinIDs is the fixed set of tracked coins, comma-joined for the ids param.
const coinIDs = "bitcoin,ethereum,usd-coin,tether,binancecoin,ripple,cardano,dogecoin,solana,tron"

// Client fetches market snapshots from the CoinGecko markets endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		logger:  logger,
	}
}

// FetchToFile requests one page of market data for the tracked coins and
// writes it to outputPath as CSV. A non-200 response is logged and produces
// no file; callers detect that by checking file existence.
func (c *Client) FetchToFile(ctx context.Context, outputPath string) error {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", coinIDs)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", "100")
	params.Set("page", "1")
	params.Set("sparkline", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+marketsPath+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "build markets request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "call coingecko")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("coingecko returned non-200 status, no snapshot written",
			zap.Int("status", resp.StatusCode))
		return nil
	}

	var rows []models.CoinSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return errors.Wrap(err, "decode markets response")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", outputPath)
	}
	defer f.Close()

	if err := models.WriteCSV(f, rows); err != nil {
		return errors.Wrapf(err, "write %s", outputPath)
	}

	c.logger.Info("saved market snapshot",
		zap.String("path", outputPath),
		zap.Int("coins", len(rows)))
	return nil
}
