package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/extralife/internal/checkout"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/logging"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

func mockConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Juno.Latency = 0
	cfg.Documents.Latency = 0
	cfg.Registry.Latency = 0
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestNew_WiresRegistryWhenEnabled(t *testing.T) {
	cfg := mockConfig()
	cfg.Registry.Enabled = true
	cfg.Registry.FromAddress = "0x10D7A0cf0516A2a75a0825E1783947B18b198a91"

	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	a, err := newWithStore(context.Background(), cfg, store.NewMemoryStore(), clk, logging.Discard())
	require.NoError(t, err)

	res, err := a.Checkout.Checkout(context.Background(), checkout.Request{
		Gender:            model.GenderMale,
		Age:               40,
		Region:            "Yucatán",
		PolicyHolderName:  "Pedro",
		BeneficiaryName:   "Lucía Pérez",
		PolicyHolderClabe: juno.MockClabe,
		BeneficiaryClabe:  "002010077777777771",
		DepositID:         "dep_1",
		Amount:            25000,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CoveragePlatinum, res.CoverageType)
	assert.NotEmpty(t, res.ContractTxHash)

	clk.Advance(cfg.Activation.Delay)
	n, err := a.Activator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_RegistryDisabled(t *testing.T) {
	a, err := newWithStore(context.Background(), mockConfig(), store.NewMemoryStore(), clock.Real{}, logging.Discard())
	require.NoError(t, err)

	res, err := a.Checkout.Checkout(context.Background(), checkout.Request{
		Gender:            model.GenderFemale,
		Age:               22,
		Region:            "cdmx",
		PolicyHolderName:  "Sofía Ruiz",
		BeneficiaryName:   "Marco",
		PolicyHolderClabe: juno.MockClabe,
		BeneficiaryClabe:  "646180111234567896",
		DepositID:         "dep_2",
		Amount:            500,
	})
	require.NoError(t, err)
	assert.Empty(t, res.ContractTxHash)
}

func TestNew_UnknownModes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
	}{
		{"store", func(c *model.Config) { c.Store.Driver = "postgres" }},
		{"juno", func(c *model.Config) { c.Juno.Mode = "sandbox" }},
		{"documents", func(c *model.Config) { c.Documents.Mode = "ftp" }},
		{"registry", func(c *model.Config) { c.Registry.Enabled = true; c.Registry.Mode = "ganache" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mockConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, logging.Discard())
			assert.Error(t, err)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := newWithStore(context.Background(), mockConfig(), store.NewMemoryStore(), clock.Real{}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.Activator.Running, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, a.Activator.Running())
}
