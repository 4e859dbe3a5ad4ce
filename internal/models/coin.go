package models

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CoinSnapshot is one row of the /coins/markets response. Field names and
// order mirror the API payload so that CSV headers match it exactly.
type CoinSnapshot struct {
	ID                           string              `json:"id"`
	Symbol                       string              `json:"symbol"`
	Name                         string              `json:"name"`
	Image                        string              `json:"image"`
	CurrentPrice                 decimal.NullDecimal `json:"current_price"`
	MarketCap                    decimal.NullDecimal `json:"market_cap"`
	MarketCapRank                *int64              `json:"market_cap_rank"`
	FullyDilutedValuation        decimal.NullDecimal `json:"fully_diluted_valuation"`
	TotalVolume                  decimal.NullDecimal `json:"total_volume"`
	High24h                      decimal.NullDecimal `json:"high_24h"`
	Low24h                       decimal.NullDecimal `json:"low_24h"`
	PriceChange24h               decimal.NullDecimal `json:"price_change_24h"`
	PriceChangePercentage24h     decimal.NullDecimal `json:"price_change_percentage_24h"`
	MarketCapChange24h           decimal.NullDecimal `json:"market_cap_change_24h"`
	MarketCapChangePercentage24h decimal.NullDecimal `json:"market_cap_change_percentage_24h"`
	CirculatingSupply            decimal.NullDecimal `json:"circulating_supply"`
	TotalSupply                  decimal.NullDecimal `json:"total_supply"`
	MaxSupply                    decimal.NullDecimal `json:"max_supply"`
	ATH                          decimal.NullDecimal `json:"ath"`
	ATHChangePercentage          decimal.NullDecimal `json:"ath_change_percentage"`
	ATHDate                      string              `json:"ath_date"`
	ATL                          decimal.NullDecimal `json:"atl"`
	ATLChangePercentage          decimal.NullDecimal `json:"atl_change_percentage"`
	ATLDate                      string              `json:"atl_date"`
	ROI                          json.RawMessage     `json:"roi"`
	LastUpdated                  string              `json:"last_updated"`
}

// Columns is the CSV header, in API field order.
var Columns = []string{
	"id", "symbol", "name", "image",
	"current_price", "market_cap", "market_cap_rank", "fully_diluted_valuation",
	"total_volume", "high_24h", "low_24h",
	"price_change_24h", "price_change_percentage_24h",
	"market_cap_change_24h", "market_cap_change_percentage_24h",
	"circulating_supply", "total_supply", "max_supply",
	"ath", "ath_change_percentage", "ath_date",
	"atl", "atl_change_percentage", "atl_date",
	"roi", "last_updated",
}

// Record renders the snapshot as one CSV record in Columns order. Null
// values become empty cells.
func (c CoinSnapshot) Record() []string {
	return []string{
		c.ID, c.Symbol, c.Name, c.Image,
		fmtDecimal(c.CurrentPrice), fmtDecimal(c.MarketCap), fmtRank(c.MarketCapRank), fmtDecimal(c.FullyDilutedValuation),
		fmtDecimal(c.TotalVolume), fmtDecimal(c.High24h), fmtDecimal(c.Low24h),
		fmtDecimal(c.PriceChange24h), fmtDecimal(c.PriceChangePercentage24h),
		fmtDecimal(c.MarketCapChange24h), fmtDecimal(c.MarketCapChangePercentage24h),
		fmtDecimal(c.CirculatingSupply), fmtDecimal(c.TotalSupply), fmtDecimal(c.MaxSupply),
		fmtDecimal(c.ATH), fmtDecimal(c.ATHChangePercentage), c.ATHDate,
		fmtDecimal(c.ATL), fmtDecimal(c.ATLChangePercentage), c.ATLDate,
		fmtROI(c.ROI), c.LastUpdated,
	}
}

// WriteCSV writes a header row plus one record per snapshot.
func WriteCSV(w io.Writer, rows []CoinSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, row := range rows {
		if err := cw.Write(row.Record()); err != nil {
			return errors.Wrap(err, "write csv record")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// ParseCSV reads snapshots back out of a CSV object. Columns are resolved
// by header name, so extra columns and reordered files still parse.
func ParseCSV(data []byte) ([]CoinSnapshot, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header row")
	}

	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[name] = i
	}
	for _, name := range Columns {
		if _, ok := idx[name]; !ok {
			return nil, errors.Errorf("csv missing column %q", name)
		}
	}

	cell := func(rec []string, name string) string { return rec[idx[name]] }

	rows := make([]CoinSnapshot, 0, len(records)-1)
	for i, rec := range records[1:] {
		var row CoinSnapshot
		row.ID = cell(rec, "id")
		row.Symbol = cell(rec, "symbol")
		row.Name = cell(rec, "name")
		row.Image = cell(rec, "image")
		row.ATHDate = cell(rec, "ath_date")
		row.ATLDate = cell(rec, "atl_date")
		row.LastUpdated = cell(rec, "last_updated")
		if roi := cell(rec, "roi"); roi != "" {
			row.ROI = json.RawMessage(roi)
		}

		if rank := cell(rec, "market_cap_rank"); rank != "" {
			v, err := strconv.ParseInt(rank, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d: market_cap_rank", i+1)
			}
			row.MarketCapRank = &v
		}

		for name, dst := range map[string]*decimal.NullDecimal{
			"current_price":                    &row.CurrentPrice,
			"market_cap":                       &row.MarketCap,
			"fully_diluted_valuation":          &row.FullyDilutedValuation,
			"total_volume":                     &row.TotalVolume,
			"high_24h":                         &row.High24h,
			"low_24h":                          &row.Low24h,
			"price_change_24h":                 &row.PriceChange24h,
			"price_change_percentage_24h":      &row.PriceChangePercentage24h,
			"market_cap_change_24h":            &row.MarketCapChange24h,
			"market_cap_change_percentage_24h": &row.MarketCapChangePercentage24h,
			"circulating_supply":               &row.CirculatingSupply,
			"total_supply":                     &row.TotalSupply,
			"max_supply":                       &row.MaxSupply,
			"ath":                              &row.ATH,
			"ath_change_percentage":            &row.ATHChangePercentage,
			"atl":                              &row.ATL,
			"atl_change_percentage":            &row.ATLChangePercentage,
		} {
			if raw := cell(rec, name); raw != "" {
				d, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, errors.Wrapf(err, "row %d: %s", i+1, name)
				}
				dst.Decimal = d
				dst.Valid = true
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

func fmtDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func fmtRank(r *int64) string {
	if r == nil {
		return ""
	}
	return strconv.FormatInt(*r, 10)
}

func fmtROI(roi json.RawMessage) string {
	if len(roi) == 0 || string(roi) == "null" {
		return ""
	}
	return string(roi)
}
