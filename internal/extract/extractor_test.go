package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"coinetl/internal/models"
)

const marketsPayload = `[
	{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"https://example.com/btc.png",
	 "current_price":65123.45,"market_cap":1280000000000,"market_cap_rank":1,
	 "fully_diluted_valuation":1367000000000,"total_volume":35000000000,
	 "high_24h":65900.12,"low_24h":64011.02,"price_change_24h":-512.3,
	 "price_change_percentage_24h":-0.78,"market_cap_change_24h":-9800000000,
	 "market_cap_change_percentage_24h":-0.76,"circulating_supply":19690000.0,
	 "total_supply":21000000.0,"max_supply":21000000.0,"ath":73738,
	 "ath_change_percentage":-11.68,"ath_date":"2024-03-14T07:10:36.635Z",
	 "atl":67.81,"atl_change_percentage":95900.75,"atl_date":"2013-07-06T00:00:00.000Z",
	 "roi":null,"last_updated":"2024-03-15T10:00:00.000Z"},
	{"id":"ethereum","symbol":"eth","name":"Ethereum","image":"https://example.com/eth.png",
	 "current_price":3521.08,"market_cap":423000000000,"market_cap_rank":2,
	 "fully_diluted_valuation":null,"total_volume":18000000000,
	 "high_24h":3590.0,"low_24h":3480.5,"price_change_24h":12.7,
	 "price_change_percentage_24h":0.36,"market_cap_change_24h":1500000000,
	 "market_cap_change_percentage_24h":0.35,"circulating_supply":120070000.0,
	 "total_supply":120070000.0,"max_supply":null,"ath":4878.26,
	 "ath_change_percentage":-27.8,"ath_date":"2021-11-10T14:24:19.604Z",
	 "atl":0.432979,"atl_change_percentage":812790.0,"atl_date":"2015-10-20T00:00:00.000Z",
	 "roi":{"times":65.2,"currency":"btc","percentage":6520.0},
	 "last_updated":"2024-03-15T10:00:05.000Z"}
]`

func TestFetchToFileWritesSnapshot(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/coins/markets", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketsPayload))
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "coin_data.csv")
	client := NewClient(server.URL, nil)
	require.NoError(t, client.FetchToFile(context.Background(), out))

	for _, param := range []string{
		"vs_currency=usd", "order=market_cap_desc", "per_page=100", "page=1", "sparkline=false",
	} {
		require.Contains(t, gotQuery, param)
	}
	require.Contains(t, gotQuery, "bitcoin")
	require.Contains(t, gotQuery, "tron")

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3) // header plus one row per coin
	require.Equal(t, strings.Join(models.Columns, ","), lines[0])

	rows, err := models.ParseCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "bitcoin", rows[0].ID)
	require.Equal(t, "ethereum", rows[1].ID)
	require.False(t, rows[1].MaxSupply.Valid)
}

func TestFetchToFileNon200WritesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "coin_data.csv")
	client := NewClient(server.URL, nil)

	// a non-200 response is a silent no-op, detected by file absence
	require.NoError(t, client.FetchToFile(context.Background(), out))
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err))
}

func TestFetchToFileTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	out := filepath.Join(t.TempDir(), "coin_data.csv")
	client := NewClient(server.URL, nil)
	require.Error(t, client.FetchToFile(context.Background(), out))
}
