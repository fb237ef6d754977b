package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payment-service/models"
)

// fakeDynamo keeps items in memory and understands the two condition
// expressions the repository issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// beforePut runs once before the next conditional put, to simulate a racing writer.
	beforePut func()
	puts      int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["order_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if hook := f.beforePut; hook != nil {
		f.beforePut = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++

	key := keyOf(in.Item)
	existing, exists := f.items[key]
	switch sdkaws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(order_id)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("exists")}
		}
	case "#v = :expected":
		want := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !exists || existing["version"].(*types.AttributeValueMemberN).Value != want {
			return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("version mismatch")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := in.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if item["user_id"].(*types.AttributeValueMemberS).Value == uid {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		out = append(out, item)
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func TestDynamo_AppendFindRoundTrip(t *testing.T) {
	repo := NewDynamoOrderRepository(newFakeDynamo(), "orders")
	ctx := context.Background()

	o := newOrder("ORDER-1", "u1", time.Time{})
	paidAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.PaymentDetails = &models.PaymentDetails{GatewayInvoiceID: "INV-1", Amount: 40000, PaidAt: &paidAt}
	require.NoError(t, repo.Append(ctx, o))

	got, err := repo.Find(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, o.Items, got.Items)
	require.NotNil(t, got.PaymentDetails)
	assert.True(t, got.PaymentDetails.PaidAt.Equal(paidAt))

	assert.ErrorIs(t, repo.Append(ctx, newOrder("ORDER-1", "u2", time.Time{})), ErrDuplicateID)

	_, err = repo.Find(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamo_Lists(t *testing.T) {
	repo := NewDynamoOrderRepository(newFakeDynamo(), "orders")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-A", "u1", base)))
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-B", "u2", base.Add(time.Minute))))
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-C", "u1", base.Add(2*time.Minute))))

	mine, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "ORDER-C", mine[0].ID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ORDER-C", all[0].ID)
	assert.Equal(t, "ORDER-A", all[2].ID)
}

func TestDynamo_UpdateRetriesOnVersionConflict(t *testing.T) {
	api := newFakeDynamo()
	repo := NewDynamoOrderRepository(api, "orders")
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))

	// A competing writer bumps the version between our read and our write.
	api.beforePut = func() {
		_, _, err := NewDynamoOrderRepository(api, "orders").Update(ctx, "ORDER-1", func(o *models.Order) (bool, error) {
			o.Currency = "USD"
			return true, nil
		})
		require.NoError(t, err)
	}

	calls := 0
	updated, changed, err := repo.Update(ctx, "ORDER-1", func(o *models.Order) (bool, error) {
		calls++
		o.Status = models.OrderStatusCompleted
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "USD", updated.Currency, "retry sees the competing write")
	assert.Equal(t, int64(3), updated.Version)
}

func TestDynamo_UpdateUnchangedSkipsWrite(t *testing.T) {
	api := newFakeDynamo()
	repo := NewDynamoOrderRepository(api, "orders")
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))
	putsBefore := api.puts

	o, changed, err := repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusPending))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, putsBefore, api.puts)
}

func TestDynamo_UpdateGivesUpAfterRetries(t *testing.T) {
	api := newFakeDynamo()
	repo := NewDynamoOrderRepository(api, "orders")
	repo.maxRetries = 1
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))

	api.beforePut = func() {
		api.mu.Lock()
		api.items["ORDER-1"]["version"] = &types.AttributeValueMemberN{Value: "99"}
		api.mu.Unlock()
	}
	_, _, err := repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusCompleted))
	assert.ErrorIs(t, err, ErrWriteConflict)
}
