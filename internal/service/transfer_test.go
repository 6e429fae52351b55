package service

import (
	"context"
	"errors"
	"testing"

	"canteen-service/internal/models"
	"canteen-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, DefaultLifecycleConfig())
	require.NoError(t, f.repo.SetCancelThreshold(ctx, 4))

	placed := f.place(t, "S001")
	_, err := f.lifecycle.MarkVerified(ctx, placed.ID)
	require.NoError(t, err)
	f.place(t, "S002")

	exported, err := NewTransferService(f.repo, f.publisher).Export(ctx)
	require.NoError(t, err)
	require.NotNil(t, exported.Settings)
	assert.Equal(t, 4, exported.Settings.CancelThreshold)
	assert.Len(t, exported.Menu, 2)
	assert.Len(t, exported.Orders, 2)
	assert.False(t, exported.ExportedAt.IsZero())

	target := testutil.NewMemoryRepository(nil)
	publisher := &testutil.RecordingPublisher{}
	result, err := NewTransferService(target, publisher).Import(ctx, exported)
	require.NoError(t, err)
	assert.Equal(t, models.ImportResult{SettingsApplied: true, MenuApplied: 2, OrdersInserted: 2}, *result)

	settings, err := target.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, settings.CancelThreshold)

	menu, err := target.ListMenuItems(ctx, true)
	require.NoError(t, err)
	require.Len(t, menu, len(exported.Menu))
	for i := range menu {
		assert.Equal(t, exported.Menu[i].ID, menu[i].ID)
		assert.Equal(t, exported.Menu[i].Name, menu[i].Name)
		assert.Equal(t, exported.Menu[i].Price, menu[i].Price)
		assert.Equal(t, exported.Menu[i].Image, menu[i].Image)
		assert.Equal(t, exported.Menu[i].Available, menu[i].Available)
		assert.Equal(t, exported.Menu[i].CreatedAt, menu[i].CreatedAt)
	}

	orders, err := target.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	byCode := make(map[string]models.Order)
	for _, o := range exported.Orders {
		byCode[o.PaymentCode] = o
	}
	for _, o := range orders {
		original, ok := byCode[o.PaymentCode]
		require.True(t, ok)
		assert.NotEqual(t, original.ID, o.ID, "imported orders get new ids")
		assert.Equal(t, original.PID, o.PID)
		assert.Equal(t, original.Status, o.Status)
		assert.Equal(t, original.Subtotal, o.Subtotal)
		assert.Equal(t, original.Items, o.Items)
	}

	assert.Len(t, publisher.Settings, 1)
	assert.Len(t, publisher.Menu, 1)
	assert.Len(t, publisher.Orders, 1)
}

func TestTransfer_ImportSkips(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewMemoryRepository(nil)
	testutil.SeedOrder(t, repo, "S001", models.OrderStatusPaidUnverified, "ABC234XY")

	doc := &models.DataExport{
		Menu: []models.MenuItem{
			{Name: "No id"},
			{ID: "m-1", Name: "Mie Ayam", Price: 80, Available: true},
		},
		Orders: []models.Order{
			{PID: "s002", Status: models.OrderStatusPaidUnverified, PaymentCode: "ABC234XY", Subtotal: 80},
			{PID: "S003", Status: models.OrderStatusFulfilled, PaymentCode: "ABC234XY", Subtotal: 80},
		},
	}

	result, err := NewTransferService(repo, &testutil.RecordingPublisher{}).Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, models.ImportResult{MenuApplied: 1, MenuSkipped: 1, OrdersInserted: 1, OrdersSkipped: 1}, *result)

	settings, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings, "no settings in the document, none written")
}

func TestTransfer_ImportedCodesStayVerifiable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, DefaultLifecycleConfig())

	doc := &models.DataExport{
		Orders: []models.Order{
			{PID: "S001", Status: models.OrderStatusPaidUnverified, PaymentCode: "ABC123XY", Subtotal: 80},
			{PID: "S002", Status: models.OrderStatusPaidUnverified, PaymentCode: " abc234xy ", Subtotal: 80},
			{PID: "S003", Status: models.OrderStatusFulfilled, PaymentCode: "LEGACY-1", Subtotal: 80},
		},
	}

	result, err := NewTransferService(f.repo, f.publisher).Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, result.OrdersInserted)
	assert.Equal(t, 1, result.OrdersSkipped)

	verified, err := f.lifecycle.VerifyByCode(ctx, "ABC234XY")
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, "S002", verified.Order.PID)

	orders, err := f.repo.ListOrders(ctx, models.OrderFilter{PID: "S001"})
	require.NoError(t, err)
	assert.Empty(t, orders, "an unverifiable code is not imported")
}

func TestTransfer_ImportValidation(t *testing.T) {
	svc := NewTransferService(testutil.NewMemoryRepository(nil), &testutil.RecordingPublisher{})
	ctx := context.Background()

	_, err := svc.Import(ctx, nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Import(ctx, &models.DataExport{Settings: &models.Settings{CancelThreshold: -2}})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Import(ctx, &models.DataExport{Orders: []models.Order{{PID: "S001", Status: "SHIPPED"}}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestTransfer_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, DefaultLifecycleConfig())
	require.NoError(t, f.repo.SetCancelThreshold(ctx, 3))
	order := f.place(t, "S001")
	_, err := f.lifecycle.Cancel(ctx, order.ID, "S001")
	require.NoError(t, err)

	require.NoError(t, NewTransferService(f.repo, f.publisher).Reset(ctx))

	menu, err := f.repo.ListMenuItems(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, menu)

	orders, err := f.repo.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	settings, err := f.repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, settings.CancelThreshold)
	assert.Len(t, f.repo.CancellationEvents(), 1)
}

func TestTransfer_ExportFailure(t *testing.T) {
	repo := testutil.NewMemoryRepository(nil)
	repo.FailOn("ListOrders", errors.New("statement timeout"))

	_, err := NewTransferService(repo, &testutil.RecordingPublisher{}).Export(context.Background())
	assert.Error(t, err)
}
