package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// Product is the slice of a catalog row checkout cares about.
type Product struct {
	ProductID string `json:"productId" dynamodbav:"product_id"` // PK
	Name      string `json:"name" dynamodbav:"name"`
	Price     int64  `json:"price" dynamodbav:"price"`
	Active    bool   `json:"active" dynamodbav:"active"`
}

// Store reads product prices from DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Put writes p.
func (s *Store) Put(ctx context.Context, p Product) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// Prices implements Source. Inactive products are treated as unknown.
func (s *Store) Prices(ctx context.Context, productIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(productIDs))
	for _, id := range productIDs {
		if _, seen := out[id]; seen {
			continue
		}
		res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberS{Value: id},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("get product %s: %w", id, err)
		}
		if len(res.Item) == 0 {
			continue
		}
		var p Product
		if err := attributevalue.UnmarshalMap(res.Item, &p); err != nil {
			return nil, fmt.Errorf("unmarshal product %s: %w", id, err)
		}
		if p.Active {
			out[id] = p.Price
		}
	}
	return out, nil
}
