package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
)

// condAcquire lets a new attempt replace a finished or expired one.
const condAcquire = "attribute_not_exists(attempt_key) OR #s <> :inprogress OR expires_at < :now"

// Store guards charge attempts against DynamoDB so that at most one attempt per
// order is in flight across every API instance.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long an unreleased attempt blocks the order
	owner     string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow bounds how long a crashed owner can block an order; it should
// exceed the full polling window.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration, owner string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		owner:     owner,
		nowFunc:   time.Now,
	}
}

// Acquire claims the attempt slot for orderID.
// Returns (true, nil) when claimed and (false, nil) when another attempt is in flight.
func (s *Store) Acquire(ctx context.Context, orderID string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := AttemptRecord{
		AttemptKey: AttemptKey(orderID),
		Status:     StatusInProgress,
		OrderID:    orderID,
		Owner:      s.owner,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString(condAcquire),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":now":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Release closes the attempt. outcome "completed" marks it DONE, anything else FAILED
// with the outcome kept as a note.
func (s *Store) Release(ctx context.Context, orderID, outcome string) error {
	if outcome == "completed" {
		return s.MarkDone(ctx, orderID)
	}
	return s.MarkFailed(ctx, orderID, outcome)
}

// Get retrieves the attempt record for an order. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, orderID string) (*AttemptRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       attemptKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec AttemptRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE.
func (s *Store) MarkDone(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              attemptKey(orderID),
		UpdateExpression: awsString("SET #s = :done, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the attempt FAILED and stores a note.
func (s *Store) MarkFailed(ctx context.Context, orderID, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              attemptKey(orderID),
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func attemptKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"attempt_key": &types.AttributeValueMemberS{Value: AttemptKey(orderID)},
	}
}

func awsString(s string) *string { return &s }
