package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// UserIndex is the orders GSI keyed by user_id.
const UserIndex = "user_id-index"

// maxTransactItems is the DynamoDB limit on one TransactWriteItems call.
const maxTransactItems = 100

// Tables names the DynamoDB tables backing the order store.
type Tables struct {
	Orders    string
	Items     string
	Addresses string
}

// Store is the DynamoDB implementation of Repository.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
	newID   func() string
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

type addressRecord struct {
	UserID     string `dynamodbav:"user_id"`     // PK
	AddressKey string `dynamodbav:"address_key"` // SK
	AddressID  string `dynamodbav:"address_id"`
	ShippingAddress
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// FindOrCreateAddress implements Repository. Two concurrent callers with the same tuple
// converge on one row through the conditional put.
func (s *Store) FindOrCreateAddress(ctx context.Context, userID string, addr ShippingAddress) (string, error) {
	key := addr.Key()
	if id, err := s.getAddressID(ctx, userID, key); err != nil || id != "" {
		return id, err
	}

	rec := addressRecord{
		UserID:          userID,
		AddressKey:      key,
		AddressID:       s.newID(),
		ShippingAddress: addr,
		CreatedAt:       s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("marshal address: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tables.Addresses,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(address_key)"),
	})
	if err == nil {
		return rec.AddressID, nil
	}
	if !isConditionFailed(err) {
		return "", fmt.Errorf("put address: %w", err)
	}

	id, err := s.getAddressID(ctx, userID, key)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("address %s vanished after conflict", key)
	}
	return id, nil
}

func (s *Store) getAddressID(ctx context.Context, userID, key string) (string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Addresses,
		Key: map[string]types.AttributeValue{
			"user_id":     &types.AttributeValueMemberS{Value: userID},
			"address_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get address: %w", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}
	var rec addressRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return "", fmt.Errorf("unmarshal address: %w", err)
	}
	return rec.AddressID, nil
}

// CreateOrder writes the header and every item in a single TransactWriteItems call. The
// header put is guarded by attribute_not_exists(order_code).
func (s *Store) CreateOrder(ctx context.Context, order *Order, items []Item) error {
	if len(items)+1 > maxTransactItems {
		return ErrTooManyItems
	}
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	transactItems := make([]types.TransactWriteItem, 0, len(items)+1)
	transactItems = append(transactItems, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tables.Orders,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_code)"),
		},
	})
	for _, it := range items {
		itemMap, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("%w: marshal line %d: %v", ErrItemsPersist, it.Line, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.tables.Items, Item: itemMap},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return classifyCancellation(tce)
	}
	return fmt.Errorf("transact write order %s: %w", order.OrderCode, err)
}

// classifyCancellation attributes a cancelled transaction to the header or an item row.
func classifyCancellation(tce *types.TransactionCanceledException) error {
	for i, r := range tce.CancellationReasons {
		code := awsValue(r.Code)
		if code == "" || code == "None" {
			continue
		}
		if i == 0 {
			if code == "ConditionalCheckFailed" {
				return ErrDuplicateOrderCode
			}
			return fmt.Errorf("order header rejected (%s): %w", code, tce)
		}
		return fmt.Errorf("%w: line %d rejected (%s): %v", ErrItemsPersist, i, code, tce)
	}
	return fmt.Errorf("transaction canceled: %w", tce)
}

// FindByCode fetches an order by order_code.
func (s *Store) FindByCode(ctx context.Context, orderCode string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            orderKey(orderCode),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListItems returns the lines of orderID sorted by line number.
func (s *Store) ListItems(ctx context.Context, orderID string) ([]Item, error) {
	input := &dyn.QueryInput{
		TableName:                 &s.tables.Items,
		KeyConditionExpression:    awsString("order_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: orderID}},
	}
	var items []Item
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query items: %w", err)
		}
		var page []Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// ConditionalUpdateStatus applies upd only while the stored status is PENDING or
// PROCESSING. A failed condition is reported as matched=false with no error.
func (s *Store) ConditionalUpdateStatus(ctx context.Context, orderCode string, upd StatusUpdate) (bool, *Order, error) {
	updatedAt := upd.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.nowFunc()
	}
	set := []string{"#s = :new", "updated_at = :ua"}
	values := map[string]types.AttributeValue{
		":new":        &types.AttributeValueMemberS{Value: upd.Status},
		":ua":         timeValue(updatedAt),
		":pending":    &types.AttributeValueMemberS{Value: StatusPending},
		":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
	}
	if upd.PaymentLinkID != "" {
		set = append(set, "payment_link_id = :pl")
		values[":pl"] = &types.AttributeValueMemberS{Value: upd.PaymentLinkID}
	}
	if upd.PaidAt != nil {
		set = append(set, "paid_at = :pa")
		values[":pa"] = timeValue(*upd.PaidAt)
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tables.Orders,
		Key:                       orderKey(orderCode),
		UpdateExpression:          awsString("SET " + strings.Join(set, ", ")),
		ConditionExpression:       awsString("attribute_exists(order_code) AND #s IN (:pending, :processing)"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("update order status: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		// The update committed; hand back what can be read so follow-up work still runs.
		return true, partialOrder(out.Attributes, orderCode, upd), nil
	}
	return true, &o, nil
}

// partialOrder reads the fields that decode cleanly from an order row.
func partialOrder(attrs map[string]types.AttributeValue, orderCode string, upd StatusUpdate) *Order {
	o := &Order{OrderCode: orderCode, Status: upd.Status, PaymentLinkID: upd.PaymentLinkID, PaidAt: upd.PaidAt, UpdatedAt: upd.UpdatedAt}
	field := func(name string, dst any) {
		if av, ok := attrs[name]; ok {
			_ = attributevalue.Unmarshal(av, dst)
		}
	}
	field("order_id", &o.ID)
	field("user_id", &o.UserID)
	field("discount_code_id", &o.DiscountCodeID)
	field("subtotal", &o.Subtotal)
	field("discount_amount", &o.DiscountAmount)
	field("shipping_fee", &o.ShippingFee)
	field("total", &o.Total)
	return o
}

// CountPaidWithDiscount counts the user's PAID orders that used discountID through the
// user_id GSI.
func (s *Store) CountPaidWithDiscount(ctx context.Context, userID, discountID string) (int64, error) {
	input := &dyn.QueryInput{
		TableName:                &s.tables.Orders,
		IndexName:                awsString(UserIndex),
		KeyConditionExpression:   awsString("user_id = :u"),
		FilterExpression:         awsString("#s = :paid AND discount_code_id = :d"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u":    &types.AttributeValueMemberS{Value: userID},
			":paid": &types.AttributeValueMemberS{Value: StatusPaid},
			":d":    &types.AttributeValueMemberS{Value: discountID},
		},
		Select: types.SelectCount,
	}
	var total int64
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("count paid orders: %w", err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func orderKey(code string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_code": &types.AttributeValueMemberS{Value: code}}
}

// timeValue encodes t the way attributevalue marshals time.Time.
func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
