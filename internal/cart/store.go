package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// Store keeps server carts in DynamoDB, one item per (user_id, product_id).
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a cart Store over tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

func lineKey(userID, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":    &types.AttributeValueMemberS{Value: userID},
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

// AddQuantity implements Repository with ADD so concurrent adds never lose an increment.
func (s *Store) AddQuantity(ctx context.Context, userID string, item Item) (Item, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              lineKey(userID, item.ProductID),
		UpdateExpression: awsString("ADD quantity :q SET unit_price = if_not_exists(unit_price, :p), variant = :v, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(item.Quantity)},
			":p":  &types.AttributeValueMemberN{Value: strconv.FormatInt(item.UnitPrice, 10)},
			":v":  &types.AttributeValueMemberS{Value: item.Variant},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return Item{}, fmt.Errorf("add cart quantity: %w", err)
	}
	var stored Item
	if err := attributevalue.UnmarshalMap(out.Attributes, &stored); err != nil {
		return Item{}, fmt.Errorf("unmarshal cart item: %w", err)
	}
	return stored, nil
}

// MergeItems implements Repository with one TransactWriteItems of ADD updates.
func (s *Store) MergeItems(ctx context.Context, userID string, items []Item) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	writes := make([]types.TransactWriteItem, 0, len(items))
	for _, it := range items {
		writes = append(writes, types.TransactWriteItem{Update: &types.Update{
			TableName:        &s.tableName,
			Key:              lineKey(userID, it.ProductID),
			UpdateExpression: awsString("ADD quantity :q SET unit_price = if_not_exists(unit_price, :p), variant = :v, updated_at = :ua"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(it.Quantity)},
				":p":  &types.AttributeValueMemberN{Value: strconv.FormatInt(it.UnitPrice, 10)},
				":v":  &types.AttributeValueMemberS{Value: it.Variant},
				":ua": &types.AttributeValueMemberS{Value: now},
			},
		}})
	}
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return fmt.Errorf("merge cart items: %w", err)
	}
	return nil
}

// SetQuantity implements Repository.
func (s *Store) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 lineKey(userID, productID),
		UpdateExpression:    awsString("SET quantity = :q, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(product_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(quantity)},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrItemNotFound
		}
		return fmt.Errorf("set cart quantity: %w", err)
	}
	return nil
}

// Remove implements Repository.
func (s *Store) Remove(ctx context.Context, userID, productID string) error {
	if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       lineKey(userID, productID),
	}); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// Get implements Repository.
func (s *Store) Get(ctx context.Context, userID string) ([]Item, error) {
	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    awsString("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: userID}},
		ConsistentRead:            awsBool(true),
	}
	var items []Item
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query cart: %w", err)
		}
		var page []Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal cart: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Clear implements Repository by deleting each line.
func (s *Store) Clear(ctx context.Context, userID string) error {
	items, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := s.Remove(ctx, userID, it.ProductID); err != nil {
			return err
		}
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
