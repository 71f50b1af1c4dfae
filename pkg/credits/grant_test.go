package credits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
)

func TestGrantInitialCredits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.GrantInitialCredits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &credits.InitialGrantResult{Granted: true, Amount: 10}, res)

	b := requireBalance(t, store, "u1", 10, 0)
	assert.Nil(t, b.SubscriptionExpiresAt)
	assert.True(t, testStart.Equal(b.CreatedAt))

	txns, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, credits.TransactionGrantInitial, txns[0].Type)
	assert.Equal(t, int64(10), txns[0].Amount)
}

func TestGrantInitialCredits_Twice(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantInitialCredits(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "u1", 4)
	require.NoError(t, err)

	res, err := svc.GrantInitialCredits(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyGranted)
	assert.False(t, res.Granted)

	requireBalance(t, store, "u1", 6, 0)
}

func TestGrantInitialCredits_Concurrent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.GrantInitialCredits(ctx, "u1")
			if !assert.NoError(t, err) {
				return
			}
			if res.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	requireBalance(t, store, "u1", 10, 0)
}

func TestGrantInitialCredits_ConfiguredQuota(t *testing.T) {
	svc, store, _ := newTestService(t, credits.WithFreeCredits(0))

	res, err := svc.GrantInitialCredits(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(0), res.Amount)

	requireBalance(t, store, "u1", 0, 0)
	txns, err := store.ListTransactions(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestGrantSubscriptionCredits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	res, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Renewal)
	assert.Equal(t, int64(100), res.Credits)

	// one calendar month, clamped the way time.AddDate normalizes: Jan 31 + 1 month = Mar 3
	wantExpiry := testStart.AddDate(0, 1, 0)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, wantExpiry.Equal(*res.ExpiresAt))

	b := requireBalance(t, store, "u1", 10, 100)
	assert.True(t, wantExpiry.Equal(*b.SubscriptionExpiresAt))

	subs, err := store.ListSubscriptions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "pay_1", subs[0].PaymentRef)
	assert.Equal(t, int64(1900), subs[0].AmountCents)
	assert.Equal(t, int64(100), subs[0].CreditsGranted)
	assert.Equal(t, credits.SubscriptionStatusActive, subs[0].Status)

	txns, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, credits.TransactionGrantSubscription, txns[0].Type)
	assert.Equal(t, "pay_1", txns[0].Metadata[credits.MetadataPaymentRef])
	assert.Equal(t, "19.00", txns[0].Metadata[credits.MetadataAmount])
	assert.Equal(t, "Subscription credits ($19.00)", txns[0].Description)
}

func TestGrantSubscriptionCredits_StacksOnExistingSubscription(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)

	clk.Set(testStart.Add(24 * time.Hour))
	res, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_2", 2900)
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Credits)

	b := requireBalance(t, store, "u1", 10, 300)
	assert.True(t, testStart.Add(24*time.Hour).AddDate(0, 1, 0).Equal(*b.SubscriptionExpiresAt))
}

func TestGrantSubscriptionCredits_DuplicatePaymentRef(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	first, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	assert.True(t, first.Granted)

	second, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Granted)

	requireBalance(t, store, "u1", 10, 100)
	subs, err := store.ListSubscriptions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestGrantSubscriptionCredits_DuplicateAcrossUsers(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")
	onboard(t, svc, "u2")

	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)

	res, err := svc.HandleResubscription(ctx, "u2", "pay_1", 1900)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	requireBalance(t, store, "u2", 10, 0)
}

func TestGrantSubscriptionCredits_ConcurrentDuplicates(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, duplicates := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Granted {
				granted++
			}
			if res.Duplicate {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, 5, duplicates)
	requireBalance(t, store, "u1", 10, 100)
}

func TestGrantSubscriptionCredits_PriceTable(t *testing.T) {
	tests := []struct {
		amountCents int64
		want        int64
	}{
		{1900, 100},
		{2900, 200},
		{4900, 500},
		{999, 100},
	}

	for _, tt := range tests {
		t.Run(credits.FormatAmount(tt.amountCents), func(t *testing.T) {
			svc, _, _ := newTestService(t)
			onboard(t, svc, "u1")

			res, err := svc.GrantSubscriptionCredits(context.Background(), "u1", "pay_"+credits.FormatAmount(tt.amountCents), tt.amountCents)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Credits)
		})
	}
}

func TestGrantSubscriptionCredits_CustomPricing(t *testing.T) {
	svc, store, _ := newTestService(t, credits.WithPricing(credits.Pricing{
		Tiers:   map[int64]int64{1000: 42},
		Default: 7,
	}))
	onboard(t, svc, "u1")

	_, err := svc.GrantSubscriptionCredits(context.Background(), "u1", "pay_1", 1000)
	require.NoError(t, err)
	requireBalance(t, store, "u1", 10, 42)
}

func TestGrantSubscriptionCredits_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 0)
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)

	_, err = svc.GrantSubscriptionCredits(ctx, "u1", "", 1900)
	assert.ErrorIs(t, err, credits.ErrInvalidArgument)

	_, err = svc.GrantSubscriptionCredits(ctx, "ghost", "pay_1", 1900)
	assert.ErrorIs(t, err, credits.ErrNotFound)
}

func TestHandleResubscription_ReplacesRemainingCredits(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "u1", 40)
	require.NoError(t, err)
	requireBalance(t, store, "u1", 10, 60)

	renewedAt := testStart.AddDate(0, 0, 20)
	clk.Set(renewedAt)

	res, err := svc.HandleResubscription(ctx, "u1", "pay_2", 2900)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.True(t, res.Renewal)
	assert.Equal(t, int64(200), res.Credits)
	assert.Equal(t, int64(60), res.Forfeited)

	b := requireBalance(t, store, "u1", 10, 200)
	assert.Equal(t, int64(210), b.TotalCredits)
	assert.True(t, renewedAt.AddDate(0, 1, 0).Equal(*b.SubscriptionExpiresAt))

	txns, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 5)
	assert.Equal(t, credits.TransactionGrantSubscription, txns[0].Type)
	assert.Equal(t, int64(200), txns[0].Amount)
	assert.Equal(t, "Repeat subscription credits ($29.00)", txns[0].Description)
	assert.Equal(t, credits.TransactionExpire, txns[1].Type)
	assert.Equal(t, int64(-60), txns[1].Amount)
	assert.Equal(t, "pay_2", txns[1].Metadata[credits.MetadataPaymentRef])

	subs, err := store.ListSubscriptions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestHandleResubscription_WithoutRemainingCredits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")

	res, err := svc.HandleResubscription(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Forfeited)

	requireBalance(t, store, "u1", 10, 100)
	txns, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txns, 2, "no expire entry when nothing is forfeited")
}
