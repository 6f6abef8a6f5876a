package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	"github.com/smallbiznis/orderflow/internal/audit/repository"
	"github.com/smallbiznis/orderflow/internal/audit/service"
	"github.com/smallbiznis/orderflow/internal/clock"
	obscontext "github.com/smallbiznis/orderflow/internal/observability/context"
	"github.com/smallbiznis/orderflow/internal/testutil"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

func newService(t *testing.T) (*service.Service, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC))
	svc := service.NewService(service.Params{
		DB:    testutil.NewDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, fake
}

func TestRecordUsesContextActorAndMasksCredentials(t *testing.T) {
	svc, _ := newService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "operator")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.Record(ctx, auditdomain.Entry{
		Action:     "product.restock",
		TargetType: "product",
		TargetID:   "42",
		Metadata:   map[string]any{"quantity": 5, "key_hint": "ops-secret-key"},
		IPAddress:  "10.0.0.1",
	})
	require.NoError(t, err)

	logs, page, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, page.HasMore)

	entry := logs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "operator", *entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "42", *entry.TargetID)
	assert.Equal(t, "****-key", entry.Metadata["key_hint"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Nil(t, entry.UserAgent)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{Action: "order.transition"}))

	logs, _, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), logs[0].ActorType)
	assert.Equal(t, "unknown", logs[0].TargetType)
}

func TestListPagesNewestFirstAndFilters(t *testing.T) {
	svc, fake := newService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		action := "product.create"
		if i%2 == 1 {
			action = "promotion.create"
		}
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{ActorType: "admin", Action: action}))
		fake.Advance(time.Minute)
	}

	first, page, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, page.HasMore)
	assert.True(t, first[0].CreatedAt.After(first[1].CreatedAt))

	second, _, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.True(t, first[1].CreatedAt.After(second[0].CreatedAt))

	promos, _, err := svc.List(ctx, auditdomain.ListRequest{Action: "promotion.create"})
	require.NoError(t, err)
	assert.Len(t, promos, 2)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	start := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, _, err = svc.List(ctx, auditdomain.ListRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
