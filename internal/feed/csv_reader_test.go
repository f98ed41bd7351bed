package feed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/core"
)

const sampleFeed = `id,name,amount,date,account_id
tx-1,NETFLIX.COM,-15.99,2025-03-14,acc-1
tx-2,Grocery Mart,-82.40,2025-03-15,acc-1
tx-3,Payroll,2500.00,2025-02-01,acc-1
tx-4,Spotify USA,-9.99,2025-03-20,
`

func TestParseFeedWindow(t *testing.T) {
	from := core.NewDate(2025, 3, 1)
	to := core.NewDate(2025, 3, 31)

	txs, err := parse(context.Background(), strings.NewReader(sampleFeed), from, to)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "tx-1", txs[0].ID)
	assert.Equal(t, "NETFLIX.COM", txs[0].Name)
	assert.Equal(t, int64(-1599), txs[0].Amount.Cents)
	assert.Equal(t, "2025-03-14", txs[0].Date.ISO())
	assert.Equal(t, "acc-1", txs[0].AccountID)

	// tx-3 is outside the window.
	for _, tx := range txs {
		assert.NotEqual(t, "tx-3", tx.ID)
	}
}

func TestParseFeedMalformedAmount(t *testing.T) {
	bad := "id,name,amount,date\ntx-1,Netflix,fifteen,2025-03-14\n"
	_, err := parse(context.Background(), strings.NewReader(bad), core.NewDate(2025, 3, 1), core.NewDate(2025, 3, 31))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseFeedMalformedDate(t *testing.T) {
	bad := "id,name,amount,date\ntx-1,Netflix,-15.99,03/14/2025\n"
	_, err := parse(context.Background(), strings.NewReader(bad), core.NewDate(2025, 3, 1), core.NewDate(2025, 3, 31))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse date")
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"15.99", 1599},
		{"-15.99", -1599},
		{"+15.99", 1599},
		{"2500.00", 250000},
		{"2500", 250000},
		{"0.5", 50},
		{".99", 99},
	}
	for _, tc := range cases {
		got, err := parseCents(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.Cents, tc.in)
	}

	_, err := parseCents("1.999")
	assert.Error(t, err)
	_, err = parseCents("")
	assert.Error(t, err)
}
