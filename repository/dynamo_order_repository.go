package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"order-payment-service/models"
)

// DynamoAPI is the subset of the DynamoDB client used by the repository.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	// UserIndexName is the GSI with partition key user_id and sort key created_at.
	UserIndexName = "user_id-created_at-index"

	defaultDynamoRetries = 5
)

// DynamoOrderRepository stores one item per order keyed by order_id. Writes
// are guarded by a version attribute, so concurrent updates of one order
// retry against the latest copy instead of overwriting each other.
type DynamoOrderRepository struct {
	client     DynamoAPI
	table      string
	maxRetries int
	now        func() time.Time
}

func NewDynamoOrderRepository(client DynamoAPI, table string) *DynamoOrderRepository {
	return &DynamoOrderRepository{
		client:     client,
		table:      table,
		maxRetries: defaultDynamoRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (r *DynamoOrderRepository) Append(ctx context.Context, order *models.Order) error {
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Version == 0 {
		order.Version = 1
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ID, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           sdkaws.String(r.table),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(order_id)"),
	})
	if isConditionFailed(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("put order %s: %w", order.ID, mapContextErr(err))
	}
	return nil
}

func (r *DynamoOrderRepository) Find(ctx context.Context, id string) (*models.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      sdkaws.String(r.table),
		Key:            orderKey(id),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, mapContextErr(err))
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var order models.Order
	if err := attributevalue.UnmarshalMap(out.Item, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", id, err)
	}
	return &order, nil
}

func (r *DynamoOrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              sdkaws.String(r.table),
		IndexName:              sdkaws.String(UserIndexName),
		KeyConditionExpression: sdkaws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: sdkaws.Bool(false),
	})

	var orders []models.Order
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query orders for user %s: %w", userID, mapContextErr(err))
		}
		var batch []models.Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		orders = append(orders, batch...)
	}
	sortRecentFirst(orders)
	return orders, nil
}

func (r *DynamoOrderRepository) ListAll(ctx context.Context) ([]models.Order, error) {
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:      sdkaws.String(r.table),
		ConsistentRead: sdkaws.Bool(true),
	})

	var orders []models.Order
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", mapContextErr(err))
		}
		var batch []models.Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		orders = append(orders, batch...)
	}
	sortRecentFirst(orders)
	return orders, nil
}

// Update reads the latest copy, applies fn and writes it back only if the
// version is unchanged, retrying on a lost race. fn may therefore run more
// than once and must derive its decision from the order it is given.
func (r *DynamoOrderRepository) Update(ctx context.Context, id string, fn MutateFunc) (*models.Order, bool, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		current, err := r.Find(ctx, id)
		if err != nil {
			return nil, false, err
		}

		working := current.Clone()
		changed, err := fn(working)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}

		working.ID = id
		touch(working, r.now())
		item, err := attributevalue.MarshalMap(working)
		if err != nil {
			return nil, false, fmt.Errorf("marshal order %s: %w", id, err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                sdkaws.String(r.table),
			Item:                     item,
			ConditionExpression:      sdkaws.String("#v = :expected"),
			ExpressionAttributeNames: map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		})
		if isConditionFailed(err) {
			if ctx.Err() != nil {
				return nil, false, mapContextErr(ctx.Err())
			}
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("put order %s: %w", id, mapContextErr(err))
		}
		return working, true, nil
	}
	return nil, false, ErrWriteConflict
}
