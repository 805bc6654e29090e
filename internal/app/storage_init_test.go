package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitRuntimeDependencies_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "default is memory", cfg: Config{}},
		{name: "memory", cfg: Config{StorageDriver: StorageDriverMemory}},
		{name: "postgres without dsn", cfg: Config{StorageDriver: StorageDriverPostgres, PostgresDSN: "  "}, wantErr: "postgres dsn is required"},
		{name: "unknown driver", cfg: Config{StorageDriver: "sqlite"}, wantErr: `unsupported storage driver "sqlite"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, err := initRuntimeDependencies(context.Background(), tt.cfg, log.WithField("test", tt.name))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, deps.store)
			require.NotNil(t, deps.outboxRepo)
			require.NotNil(t, deps.idempotencyRepo)
			require.Nil(t, deps.storageChecker, "memory storage has no external connection to check")
			require.Nil(t, deps.closeFn)
		})
	}
}

func TestInitRuntimeDependencies_DemoCatalog(t *testing.T) {
	ctx := context.Background()
	deps, err := initRuntimeDependencies(ctx, Config{DemoCatalog: true}, log.WithField("test", "demo-catalog"))
	require.NoError(t, err)

	stock := map[string]int32{"prod-tea": 100, "prod-mug": 20, "prod-kettle": 5}
	for id, want := range stock {
		product, err := deps.store.Products().Get(ctx, id)
		require.NoError(t, err, id)
		require.EqualValues(t, want, product.StockQuantity, id)
		require.True(t, product.IsActive, id)
	}

	owns, err := deps.store.Addresses().Owns(ctx, demoUserID, demoAddressID)
	require.NoError(t, err)
	require.True(t, owns)

	owns, err = deps.store.Addresses().Owns(ctx, "someone-else", demoAddressID)
	require.NoError(t, err)
	require.False(t, owns)
}
