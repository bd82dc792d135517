package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

const (
	pkPrefixPeriod = "PERIOD#"
	skPrefixItem   = "ITEM#"
	skPrefixStatus = "STATUS#"
	skPrefixEdit   = "EDIT#"
	skPrefixDelete = "DELETED#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client stores ledger items and overlay records in one DynamoDB table,
// partitioned by period.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// periodPK returns the partition key for a period.
func periodPK(period string) string {
	return pkPrefixPeriod + period
}

// itemSK returns the sort key of a durable item.
func itemSK(kind domain.Kind, id string) string {
	return skPrefixItem + string(kind) + "#" + id
}

// overlaySK returns the sort key of an overlay record keyed by (kind, name).
func overlaySK(prefix string, key domain.ItemKey) string {
	return prefix + string(key.Kind) + "#" + key.Normalized()
}

func itemKey(item domain.Item) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: periodPK(item.Period)},
		"SK": &types.AttributeValueMemberS{Value: itemSK(item.Kind, item.ID)},
	}
}

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	return nil
}

// CreateItem inserts a new durable item. The item must carry an ID.
func (c *Client) CreateItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" || item.Period == "" {
		return errors.New("repository: CreateItem: id and period are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                ledgerItem(item),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateItem: %w", err)
	}
	return nil
}

// UpdateItem replaces an existing durable item.
func (c *Client) UpdateItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" || item.Period == "" {
		return errors.New("repository: UpdateItem: id and period are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                ledgerItem(item),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateItem: %w", err)
	}
	return nil
}

// DeleteItem removes a durable item.
func (c *Client) DeleteItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" || item.Period == "" {
		return errors.New("repository: DeleteItem: id and period are required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(item),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteItem: %w", err)
	}
	return nil
}

// ListItems returns the durable items of a period, optionally restricted to one kind.
func (c *Client) ListItems(ctx context.Context, period string, kind domain.Kind) ([]domain.Item, error) {
	prefix := skPrefixItem
	if kind != "" {
		prefix += string(kind) + "#"
	}
	rows, err := c.query(ctx, period, prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListItems: %w", err)
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		item, err := attrsToItem(row)
		if err != nil {
			return nil, fmt.Errorf("repository: ListItems unmarshal: %w", err)
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

// FindItems returns every durable item matching (period, kind, name).
func (c *Client) FindItems(ctx context.Context, key domain.ItemKey) ([]domain.Item, error) {
	rows, err := c.query(ctx, key.Period, skPrefixItem+string(key.Kind)+"#", &nameFilter{key: key.Normalized()})
	if err != nil {
		return nil, fmt.Errorf("repository: FindItems: %w", err)
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		item, err := attrsToItem(row)
		if err != nil {
			return nil, fmt.Errorf("repository: FindItems unmarshal: %w", err)
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

// UpsertStatusOverride writes or replaces the status overlay of a key.
func (c *Client) UpsertStatusOverride(ctx context.Context, o domain.StatusOverride) error {
	item := overlayBase(skPrefixStatus, o.ItemKey)
	item["status"] = &types.AttributeValueMemberS{Value: string(o.Status)}
	item["settledDate"] = &types.AttributeValueMemberS{Value: o.SettledDate}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: c.stamp(o.UpdatedAt)}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertStatusOverride: %w", err)
	}
	return nil
}

// UpsertEditOverride merges the supplied fields into the edit overlay of a key.
func (c *Client) UpsertEditOverride(ctx context.Context, o domain.EditOverride) error {
	sets := []string{"#name = :name", "kind = :kind", "period = :period", "updatedAt = :updatedAt"}
	values := map[string]types.AttributeValue{
		":name":      &types.AttributeValueMemberS{Value: o.Name},
		":kind":      &types.AttributeValueMemberS{Value: string(o.Kind)},
		":period":    &types.AttributeValueMemberS{Value: o.Period},
		":updatedAt": &types.AttributeValueMemberS{Value: c.stamp(o.UpdatedAt)},
	}
	if o.NewName != nil {
		sets = append(sets, "newName = :newName")
		values[":newName"] = &types.AttributeValueMemberS{Value: *o.NewName}
	}
	if o.NewAmount != nil {
		sets = append(sets, "newAmount = :newAmount")
		values[":newAmount"] = &types.AttributeValueMemberN{Value: o.NewAmount.String()}
	}
	if o.NewCategory != nil {
		sets = append(sets, "newCategory = :newCategory")
		values[":newCategory"] = &types.AttributeValueMemberS{Value: *o.NewCategory}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: periodPK(o.Period)},
			"SK": &types.AttributeValueMemberS{Value: overlaySK(skPrefixEdit, o.ItemKey)},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  map[string]string{"#name": "name"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertEditOverride: %w", err)
	}
	return nil
}

// UpsertDeletionMarker writes the tombstone of a key.
func (c *Client) UpsertDeletionMarker(ctx context.Context, m domain.DeletionMarker) error {
	item := overlayBase(skPrefixDelete, m.ItemKey)
	item["deletedAt"] = &types.AttributeValueMemberS{Value: c.stamp(m.DeletedAt)}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertDeletionMarker: %w", err)
	}
	return nil
}

// ListOverlays returns every overlay record of a period.
func (c *Client) ListOverlays(ctx context.Context, period string) (domain.Overlays, error) {
	rows, err := c.query(ctx, period, "", nil)
	if err != nil {
		return domain.Overlays{}, fmt.Errorf("repository: ListOverlays: %w", err)
	}

	var out domain.Overlays
	for _, row := range rows {
		sk, err := strAttr(row, "SK")
		if err != nil {
			return domain.Overlays{}, fmt.Errorf("repository: ListOverlays: %w", err)
		}
		switch {
		case strings.HasPrefix(sk, skPrefixStatus):
			o, err := attrsToStatusOverride(row)
			if err != nil {
				return domain.Overlays{}, fmt.Errorf("repository: ListOverlays status: %w", err)
			}
			out.Statuses = append(out.Statuses, o)
		case strings.HasPrefix(sk, skPrefixEdit):
			o, err := attrsToEditOverride(row)
			if err != nil {
				return domain.Overlays{}, fmt.Errorf("repository: ListOverlays edit: %w", err)
			}
			out.Edits = append(out.Edits, o)
		case strings.HasPrefix(sk, skPrefixDelete):
			key, err := attrsToKey(row)
			if err != nil {
				return domain.Overlays{}, fmt.Errorf("repository: ListOverlays deletion: %w", err)
			}
			deletedAt, _ := timeAttr(row, "deletedAt")
			out.Deletions = append(out.Deletions, domain.DeletionMarker{ItemKey: key, DeletedAt: deletedAt})
		}
	}
	return out, nil
}

type nameFilter struct {
	key string
}

// query pages through every row of a period whose sort key starts with prefix.
func (c *Client) query(ctx context.Context, period, prefix string, filter *nameFilter) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: periodPK(period)},
		},
	}
	if prefix != "" {
		in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		in.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}
	if filter != nil {
		in.FilterExpression = aws.String("nameKey = :nameKey")
		in.ExpressionAttributeValues[":nameKey"] = &types.AttributeValueMemberS{Value: filter.key}
	}

	var rows []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return rows, nil
		}
		rows = append(rows, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return rows, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *Client) stamp(t time.Time) string {
	if t.IsZero() {
		t = c.now()
	}
	return t.UTC().Format(time.RFC3339)
}

func ledgerItem(item domain.Item) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: periodPK(item.Period)},
		"SK":          &types.AttributeValueMemberS{Value: itemSK(item.Kind, item.ID)},
		"id":          &types.AttributeValueMemberS{Value: item.ID},
		"period":      &types.AttributeValueMemberS{Value: item.Period},
		"kind":        &types.AttributeValueMemberS{Value: string(item.Kind)},
		"name":        &types.AttributeValueMemberS{Value: item.Name},
		"nameKey":     &types.AttributeValueMemberS{Value: domain.NameKey(item.Name)},
		"amount":      &types.AttributeValueMemberN{Value: item.Amount.String()},
		"category":    &types.AttributeValueMemberS{Value: item.Category},
		"status":      &types.AttributeValueMemberS{Value: string(item.Status)},
		"dueDate":     &types.AttributeValueMemberS{Value: item.DueDate},
		"settledDate": &types.AttributeValueMemberS{Value: item.SettledDate},
		"createdAt":   &types.AttributeValueMemberS{Value: item.CreatedAt.UTC().Format(time.RFC3339)},
	}
}

func overlayBase(prefix string, key domain.ItemKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: periodPK(key.Period)},
		"SK":     &types.AttributeValueMemberS{Value: overlaySK(prefix, key)},
		"period": &types.AttributeValueMemberS{Value: key.Period},
		"kind":   &types.AttributeValueMemberS{Value: string(key.Kind)},
		"name":   &types.AttributeValueMemberS{Value: key.Name},
	}
}

// attrsToItem converts a DynamoDB attribute map to an Item.
func attrsToItem(row map[string]types.AttributeValue) (domain.Item, error) {
	key, err := attrsToKey(row)
	if err != nil {
		return domain.Item{}, err
	}
	id, err := strAttr(row, "id")
	if err != nil {
		return domain.Item{}, err
	}
	amount, err := decimalAttr(row, "amount")
	if err != nil {
		return domain.Item{}, err
	}
	category, _ := strAttr(row, "category") // allow empty
	status, _ := strAttr(row, "status")
	dueDate, _ := strAttr(row, "dueDate")
	settledDate, _ := strAttr(row, "settledDate")
	createdAt, _ := timeAttr(row, "createdAt")

	return domain.Item{
		ID:          id,
		Period:      key.Period,
		Kind:        key.Kind,
		Name:        key.Name,
		Amount:      amount,
		Category:    category,
		Status:      domain.Status(status),
		DueDate:     dueDate,
		SettledDate: settledDate,
		CreatedAt:   createdAt,
		Source:      domain.SourceLedger,
	}, nil
}

func attrsToKey(row map[string]types.AttributeValue) (domain.ItemKey, error) {
	period, err := strAttr(row, "period")
	if err != nil {
		return domain.ItemKey{}, err
	}
	kind, err := strAttr(row, "kind")
	if err != nil {
		return domain.ItemKey{}, err
	}
	name, err := strAttr(row, "name")
	if err != nil {
		return domain.ItemKey{}, err
	}
	return domain.ItemKey{Period: period, Kind: domain.Kind(kind), Name: name}, nil
}

func attrsToStatusOverride(row map[string]types.AttributeValue) (domain.StatusOverride, error) {
	key, err := attrsToKey(row)
	if err != nil {
		return domain.StatusOverride{}, err
	}
	status, err := strAttr(row, "status")
	if err != nil {
		return domain.StatusOverride{}, err
	}
	settledDate, _ := strAttr(row, "settledDate")
	updatedAt, _ := timeAttr(row, "updatedAt")
	return domain.StatusOverride{
		ItemKey:     key,
		Status:      domain.Status(status),
		SettledDate: settledDate,
		UpdatedAt:   updatedAt,
	}, nil
}

func attrsToEditOverride(row map[string]types.AttributeValue) (domain.EditOverride, error) {
	key, err := attrsToKey(row)
	if err != nil {
		return domain.EditOverride{}, err
	}
	o := domain.EditOverride{ItemKey: key}
	if v, err := strAttr(row, "newName"); err == nil {
		o.NewName = &v
	}
	if _, ok := row["newAmount"]; ok {
		amount, err := decimalAttr(row, "newAmount")
		if err != nil {
			return domain.EditOverride{}, err
		}
		o.NewAmount = &amount
	}
	if v, err := strAttr(row, "newCategory"); err == nil {
		o.NewCategory = &v
	}
	o.UpdatedAt, _ = timeAttr(row, "updatedAt")
	return o, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func decimalAttr(item map[string]types.AttributeValue, key string) (decimal.Decimal, error) {
	v, ok := item[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := decimal.NewFromString(n.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}
