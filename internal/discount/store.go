package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// CodeIndex is the GSI on the normalised code attribute.
const CodeIndex = "code-index"

// Store is the DynamoDB implementation of Repository.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a discount Store over tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Save writes c after checking its shape. The code is stored normalised so lookups are
// case-insensitive.
func (s *Store) Save(ctx context.Context, c *Code) error {
	if err := c.CheckShape(); err != nil {
		return err
	}
	c.Code = Normalize(c.Code)
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal discount: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put discount: %w", err)
	}
	return nil
}

// FindByCode implements Repository.
func (s *Store) FindByCode(ctx context.Context, code string) (*Code, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 awsString(CodeIndex),
		KeyConditionExpression:    awsString("code = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":c": &types.AttributeValueMemberS{Value: Normalize(code)}},
	})
	if err != nil {
		return nil, fmt.Errorf("query discount: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var c Code
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, fmt.Errorf("unmarshal discount: %w", err)
	}
	return &c, nil
}

// IncrementUsage implements Repository with an atomic ADD.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    awsString("ADD uses_count :one SET updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("increment discount usage: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
