// Package dynamotest provides an in-memory DynamoDB double for store tests. It understands
// the expression subset the stores use: equality, ordering and IN comparisons,
// attribute_exists, attribute_not_exists and begins_with joined with AND and OR; SET, ADD
// and REMOVE updates; key condition queries over tables and global secondary indexes; and
// transactional writes.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// maxTransactItems mirrors the service limit on TransactWriteItems.
const maxTransactItems = 100

// Index describes a global secondary index.
type Index struct {
	PK string
	SK string
}

// Table describes a table's key schema.
type Table struct {
	Name    string
	PK      string
	SK      string
	Indexes map[string]Index
}

type Item = map[string]types.AttributeValue

type table struct {
	schema Table
	rows   map[string]Item
}

// Fake is a concurrency-safe DynamoDB double. Hook, when set, is consulted before every
// write; a non-nil error fails that write (inside a transaction it cancels the whole
// transaction with a reason on the offending item).
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table

	Hook func(op, table string, item Item) error

	Calls map[string]int
}

// New returns a Fake with the given tables.
func New(tables ...Table) *Fake {
	f := &Fake{tables: map[string]*table{}, Calls: map[string]int{}}
	for _, t := range tables {
		f.tables[t.Name] = &table{schema: t, rows: map[string]Item{}}
	}
	return f
}

// Rows returns a copy of every item stored in name.
func (f *Fake) Rows(name string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[name]
	if !ok {
		return nil
	}
	out := make([]Item, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, clone(row))
	}
	return out
}

// Seed stores item without evaluating any condition.
func (f *Fake) Seed(name string, item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[name]
	t.rows[t.key(item)] = clone(item)
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["PutItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := f.hook("PutItem", t, in.Item); err != nil {
		return nil, err
	}
	key := t.key(in.Item)
	old := t.rows[key]
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), old, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure)
	}
	t.rows[key] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[t.key(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(row)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := f.hook("UpdateItem", t, in.Key); err != nil {
		return nil, err
	}
	key := t.key(in.Key)
	old := t.rows[key]
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), old, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure)
	}
	next, err := applyUpdate(aws.ToString(in.UpdateExpression), old, in.Key, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.rows[key] = next
	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = clone(next)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = clone(old)
	}
	return out, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["DeleteItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := f.hook("DeleteItem", t, in.Key); err != nil {
		return nil, err
	}
	key := t.key(in.Key)
	old := t.rows[key]
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), old, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure)
	}
	delete(t.rows, key)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Query"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk, sk := t.schema.PK, t.schema.SK
	if name := aws.ToString(in.IndexName); name != "" {
		idx, ok := t.schema.Indexes[name]
		if !ok {
			return nil, apiError("ValidationException", "unknown index "+name)
		}
		pk, sk = idx.PK, idx.SK
	}

	var matched []Item
	for _, row := range t.rows {
		if _, ok := row[pk]; !ok {
			continue
		}
		ok, err := evalCondition(aws.ToString(in.KeyConditionExpression), row, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(aws.ToString(in.FilterExpression), row, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.SliceStable(matched, func(i, j int) bool {
		c, _ := compare(matched[i][sk], matched[j][sk])
		if forward {
			return c < 0
		}
		return c > 0
	})
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}

	out := &dyn.QueryOutput{Count: int32(len(matched)), ScannedCount: int32(len(matched))}
	if in.Select != types.SelectCount {
		for _, row := range matched {
			out.Items = append(out.Items, clone(row))
		}
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["TransactWriteItems"]++
	if len(in.TransactItems) > maxTransactItems {
		return nil, apiError("ValidationException", fmt.Sprintf("transaction has %d items, limit is %d", len(in.TransactItems), maxTransactItems))
	}

	type write struct {
		t    *table
		key  string
		next Item // nil deletes
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var (
			tableName *string
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
			keyItem   Item
			op        string
		)
		switch {
		case ti.Put != nil:
			op, tableName, cond, names, values, keyItem = "Put", ti.Put.TableName, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, ti.Put.Item
		case ti.Update != nil:
			op, tableName, cond, names, values, keyItem = "Update", ti.Update.TableName, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, ti.Update.Key
		case ti.Delete != nil:
			op, tableName, cond, names, values, keyItem = "Delete", ti.Delete.TableName, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues, ti.Delete.Key
		case ti.ConditionCheck != nil:
			op, tableName, cond, names, values, keyItem = "ConditionCheck", ti.ConditionCheck.TableName, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, ti.ConditionCheck.Key
		default:
			return nil, apiError("ValidationException", "empty transact item")
		}

		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		if err := f.hook("Transact"+op, t, keyItem); err != nil {
			reasons[i] = types.CancellationReason{Code: aws.String("ValidationError"), Message: aws.String(err.Error())}
			failed = true
			continue
		}
		key := t.key(keyItem)
		old := t.rows[key]
		ok, err := evalCondition(aws.ToString(cond), old, names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Message: aws.String("The conditional request failed")}
			failed = true
			continue
		}

		switch op {
		case "Put":
			writes = append(writes, write{t: t, key: key, next: clone(ti.Put.Item)})
		case "Update":
			next, err := applyUpdate(aws.ToString(ti.Update.UpdateExpression), old, keyItem, names, values)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{t: t, key: key, next: next})
		case "Delete":
			writes = append(writes, write{t: t, key: key})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.next == nil {
			delete(w.t.rows, w.key)
			continue
		}
		w.t.rows[w.key] = w.next
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) table(name *string) (*table, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func (f *Fake) hook(op string, t *table, item Item) error {
	if f.Hook == nil {
		return nil
	}
	return f.Hook(op, t.schema.Name, item)
}

func (t *table) key(item Item) string {
	k := render(item[t.schema.PK])
	if t.schema.SK != "" {
		k += "\x00" + render(item[t.schema.SK])
	}
	return k
}

func conditionFailed(old Item, rv types.ReturnValuesOnConditionCheckFailure) error {
	e := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
		e.Item = clone(old)
	}
	return e
}

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg, Fault: smithy.FaultClient}
}

func clone(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func render(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberBOOL:
		return "B:" + strconv.FormatBool(v.Value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%T", av)
	}
}

// compare orders two scalar values of the same type.
func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}
