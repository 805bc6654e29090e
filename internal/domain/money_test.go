package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{amount: "1999.00", want: 199900},
		{amount: "0", want: 0},
		{amount: "0.01", want: 1},
		{amount: "10.005", want: 1001},
		{amount: "10.004", want: 1000},
		{amount: "123456.78", want: 12345678},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			require.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	require.True(t, decimal.RequireFromString("1999.00").Equal(FromMinorUnits(199900)))
	require.Equal(t, "1999.00 INR", FormatAmount(FromMinorUnits(199900), "INR"))
}

func TestFormatOrderNumber(t *testing.T) {
	require.Equal(t, "ORD-2026-0001", FormatOrderNumber(2026, 1))
	require.Equal(t, "ORD-2026-0420", FormatOrderNumber(2026, 420))
	require.Equal(t, "ORD-2026-12345", FormatOrderNumber(2026, 12345))
}

func TestYearStart(t *testing.T) {
	at := time.Date(2026, time.October, 18, 15, 4, 5, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), YearStart(at))
}

func TestPrincipalOwns(t *testing.T) {
	user := Principal{ID: "user-1", Role: RoleUser}
	admin := Principal{ID: "admin-1", Role: RoleAdmin}

	require.True(t, user.Owns("user-1"))
	require.False(t, user.Owns("user-2"))
	require.True(t, admin.Owns("user-2"))
	require.False(t, Principal{}.Owns(""))
}
