package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

func TestLoad_AppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.ListenAddress)
	assert.Equal(t, 9001, cfg.ListenPort)
	assert.Equal(t, 9090, cfg.MetricsPort)
}

func TestLoad_ReadsInstrumentsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
listenPort: 9100
instruments:
  - symbol: BTC-USD
    quoteCurrency: USD
    minPrice: "0.01"
    maxPrice: "1000000"
    tickSize: "0.01"
    lotSize: "0.0001"
    minQuantity: "0.0001"
    maxQuantity: "1000000"
    marketBuyReservation: top_of_book
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.ListenPort)
	require.Len(t, cfg.Instruments, 1)

	inst, err := cfg.Instruments[0].ToDomain()
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", inst.Symbol)
	assert.Equal(t, domain.ReserveAtTopOfBook, inst.MarketBuyReservation)
	assert.True(t, inst.MaxPrice.Equal(decimal.MustParse("1000000")))
}

func TestInstrumentConfig_ToDomain_RejectsBadDecimal(t *testing.T) {
	ic := InstrumentConfig{Symbol: "X", MinPrice: "not-a-number"}
	_, err := ic.ToDomain()
	assert.Error(t, err)
}
