// Package awstest provides in-memory stand-ins for the AWS clients used
// by the stores, for unit tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// maxTransactItems mirrors the DynamoDB TransactWriteItems limit.
const maxTransactItems = 100

type table struct {
	pk, sk  string
	indexes map[string]string // index name -> partition attribute
	items   map[string]map[string]types.AttributeValue
}

// Dynamo is an in-memory DynamoDB supporting the key layouts, update
// expressions and condition expressions the stores emit. TransactWriteItems
// validates every condition before applying any write.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int

	// FailOn, when set, is called before each operation with its name and
	// input. A non-nil return is handed back to the caller and nothing is applied.
	FailOn func(op string, input any) error
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table. sk may be empty for hash-only keys.
func (d *Dynamo) CreateTable(name, pk, sk string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{
		pk:      pk,
		sk:      sk,
		indexes: map[string]string{},
		items:   map[string]map[string]types.AttributeValue{},
	}
}

// AddIndex registers a global secondary index on attr.
func (d *Dynamo) AddIndex(tableName, index, attr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mustTable(tableName).indexes[index] = attr
}

// Items returns a copy of every item in a table, sorted by key.
func (d *Dynamo) Items(tableName string) []map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	out := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, clone(it))
	}
	t.sortItems(out)
	return out
}

// Seed writes an item directly, bypassing FailOn and call counting.
func (d *Dynamo) Seed(tableName string, item map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	k, err := t.key(item)
	if err != nil {
		panic(err)
	}
	t.items[k] = clone(item)
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *Dynamo) mustTable(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		panic(fmt.Sprintf("awstest: table %q not created", name))
	}
	return t
}

func (d *Dynamo) table(name *string) (*table, error) {
	if name == nil {
		return nil, validation("missing table name")
	}
	t, ok := d.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + *name)}
	}
	return t, nil
}

func (d *Dynamo) begin(op string, input any) error {
	d.calls[op]++
	if d.FailOn != nil {
		return d.FailOn(op, input)
	}
	return nil
}

func (t *table) key(item map[string]types.AttributeValue) (string, error) {
	pk, ok := item[t.pk]
	if !ok {
		return "", validation("missing key attribute " + t.pk)
	}
	k := scalar(pk)
	if t.sk != "" {
		sk, ok := item[t.sk]
		if !ok {
			return "", validation("missing key attribute " + t.sk)
		}
		k += "|" + scalar(sk)
	}
	return k, nil
}

func (t *table) sortItems(items []map[string]types.AttributeValue) {
	sort.SliceStable(items, func(i, j int) bool {
		if c, _ := compare(items[i][t.pk], items[j][t.pk]); c != 0 {
			return c < 0
		}
		if t.sk == "" {
			return false
		}
		c, _ := compare(items[i][t.sk], items[j][t.sk])
		return c < 0
	})
}

func (t *table) keyOnly(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{t.pk: item[t.pk]}
	if t.sk != "" {
		out[t.sk] = item[t.sk]
	}
	return out
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem", params); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.key(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem", params); err != nil {
		return nil, err
	}
	w, err := d.put(params.TableName, params.Item, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.ok {
		return nil, conditionFailed()
	}
	w.apply()
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem", params); err != nil {
		return nil, err
	}
	w, err := d.update(params.TableName, params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.ok {
		return nil, conditionFailed()
	}
	w.apply()
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues != types.ReturnValueNone && params.ReturnValues != "" {
		out.Attributes = clone(w.item)
	}
	return out, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DeleteItem", params); err != nil {
		return nil, err
	}
	w, err := d.remove(params.TableName, params.Key, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.ok {
		return nil, conditionFailed()
	}
	w.apply()
	return &dyn.DeleteItemOutput{}, nil
}

// Query supports a single equality key condition on the table partition key
// or on a registered index attribute.
func (d *Dynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Query", params); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if params.KeyConditionExpression == nil {
		return nil, validation("missing key condition")
	}
	ec := exprContext{names: params.ExpressionAttributeNames, values: params.ExpressionAttributeValues}
	m := comparison.FindStringSubmatch(strings.TrimSpace(*params.KeyConditionExpression))
	if m == nil || m[2] != "=" {
		return nil, validation("unsupported key condition " + *params.KeyConditionExpression)
	}
	attr := ec.name(m[1])
	want, err := ec.value(m[3])
	if err != nil {
		return nil, err
	}
	keyAttr := t.pk
	if params.IndexName != nil {
		ia, ok := t.indexes[*params.IndexName]
		if !ok {
			return nil, validation("unknown index " + *params.IndexName)
		}
		keyAttr = ia
	}
	if attr != keyAttr {
		return nil, validation("key condition must use " + keyAttr)
	}

	var out []map[string]types.AttributeValue
	for _, it := range t.items {
		got, ok := it[attr]
		if !ok {
			continue
		}
		if c, err := compare(got, want); err == nil && c == 0 {
			out = append(out, clone(it))
		}
	}
	t.sortItems(out)
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(out) {
		out = out[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

// Scan walks the table in key order. Limit and ExclusiveStartKey page the
// walk; FilterExpression is applied after the limit, as DynamoDB does.
func (d *Dynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Scan", params); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	all := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, it := range t.items {
		all = append(all, it)
	}
	t.sortItems(all)

	if params.ExclusiveStartKey != nil {
		start, err := t.key(params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for i, it := range all {
			if k, _ := t.key(it); k == start {
				all = all[i+1:]
				break
			}
		}
	}
	var last map[string]types.AttributeValue
	if params.Limit != nil && int(*params.Limit) < len(all) {
		all = all[:*params.Limit]
		last = t.keyOnly(all[len(all)-1])
	}

	var out []map[string]types.AttributeValue
	for _, it := range all {
		ok, err := evalOptional(it, params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(it))
		}
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out)), ScannedCount: int32(len(all)), LastEvaluatedKey: last}, nil
}

func (d *Dynamo) BatchWriteItem(ctx context.Context, params *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("BatchWriteItem", params); err != nil {
		return nil, err
	}
	var writes []*write
	total := 0
	for name, reqs := range params.RequestItems {
		name := name
		for _, r := range reqs {
			total++
			var (
				w   *write
				err error
			)
			switch {
			case r.PutRequest != nil:
				w, err = d.put(&name, r.PutRequest.Item, nil, nil, nil)
			case r.DeleteRequest != nil:
				w, err = d.remove(&name, r.DeleteRequest.Key, nil, nil, nil)
			default:
				err = validation("empty write request")
			}
			if err != nil {
				return nil, err
			}
			writes = append(writes, w)
		}
	}
	if total > 25 {
		return nil, validation("too many items in batch write")
	}
	for _, w := range writes {
		w.apply()
	}
	return &dyn.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TransactWriteItems", params); err != nil {
		return nil, err
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validation("transaction exceeds 100 items")
	}

	writes := make([]*write, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	for i, it := range params.TransactItems {
		var (
			w   *write
			err error
		)
		switch {
		case it.Put != nil:
			p := it.Put
			w, err = d.put(p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
		case it.Update != nil:
			u := it.Update
			w, err = d.update(u.TableName, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
		case it.Delete != nil:
			dl := it.Delete
			w, err = d.remove(dl.TableName, dl.Key, dl.ConditionExpression, dl.ExpressionAttributeNames, dl.ExpressionAttributeValues)
		case it.ConditionCheck != nil:
			cc := it.ConditionCheck
			w, err = d.check(cc.TableName, cc.Key, cc.ConditionExpression, cc.ExpressionAttributeNames, cc.ExpressionAttributeValues)
		default:
			err = validation("empty transact item")
		}
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		if !w.ok {
			canceled = true
			reasons[i] = types.CancellationReason{
				Code:    sdkaws.String("ConditionalCheckFailed"),
				Message: sdkaws.String("The conditional request failed"),
			}
		}
		writes = append(writes, w)
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.apply()
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// write is a validated, not yet applied mutation.
type write struct {
	ok    bool
	item  map[string]types.AttributeValue
	apply func()
}

func (d *Dynamo) put(name *string, item map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) (*write, error) {
	t, err := d.table(name)
	if err != nil {
		return nil, err
	}
	k, err := t.key(item)
	if err != nil {
		return nil, err
	}
	ok, err := evalOptional(t.items[k], cond, names, values)
	if err != nil {
		return nil, err
	}
	next := clone(item)
	return &write{ok: ok, item: next, apply: func() { t.items[k] = next }}, nil
}

func (d *Dynamo) update(name *string, key map[string]types.AttributeValue, update, cond *string, names map[string]string, values map[string]types.AttributeValue) (*write, error) {
	t, err := d.table(name)
	if err != nil {
		return nil, err
	}
	k, err := t.key(key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := evalOptional(current, cond, names, values)
	if err != nil {
		return nil, err
	}
	next := clone(current)
	if next == nil {
		next = clone(t.keyOnly(key))
	}
	if update != nil {
		ec := exprContext{names: names, values: values}
		if err := ec.applyUpdate(next, *update); err != nil {
			return nil, err
		}
	}
	return &write{ok: ok, item: next, apply: func() { t.items[k] = next }}, nil
}

func (d *Dynamo) remove(name *string, key map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) (*write, error) {
	t, err := d.table(name)
	if err != nil {
		return nil, err
	}
	k, err := t.key(key)
	if err != nil {
		return nil, err
	}
	ok, err := evalOptional(t.items[k], cond, names, values)
	if err != nil {
		return nil, err
	}
	return &write{ok: ok, apply: func() { delete(t.items, k) }}, nil
}

func (d *Dynamo) check(name *string, key map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) (*write, error) {
	t, err := d.table(name)
	if err != nil {
		return nil, err
	}
	k, err := t.key(key)
	if err != nil {
		return nil, err
	}
	ok, err := evalOptional(t.items[k], cond, names, values)
	if err != nil {
		return nil, err
	}
	return &write{ok: ok, apply: func() {}}, nil
}

func evalOptional(item map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if cond == nil {
		return true, nil
	}
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	return exprContext{names: names, values: values}.evalCondition(item, *cond)
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

// ErrInjected is a convenience error for FailOn hooks.
var ErrInjected = errors.New("awstest: injected failure")

// FailOp returns a FailOn hook failing every call of op with ErrInjected.
func FailOp(op string) func(string, any) error {
	return func(got string, _ any) error {
		if got == op {
			return ErrInjected
		}
		return nil
	}
}

func scalar(v types.AttributeValue) string {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + x.Value
	case *types.AttributeValueMemberN:
		return "N:" + x.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL:%t", x.Value)
	}
	return fmt.Sprintf("%T", v)
}

// clone copies the top-level map; attribute values are treated as immutable.
func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
