package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
)

// Condition expressions. The store is the single arbiter for payment and
// cancellation races, so every mutation is conditional.
const (
	condOrderNotExists = "attribute_not_exists(order_id)"
	condPaymentStatus  = "attribute_exists(order_id) AND payment_status = :expected"
	condCancel         = "attribute_exists(order_id) AND payment_status = :expected AND payment_status <> :paid AND #s <> :cancelled AND #s <> :done"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create inserts a new order. Status and payment status default to pending.
func (s *Store) Create(ctx context.Context, order Order) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentPending
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condOrderNotExists),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches an order by order_id with a strongly consistent read.
func (s *Store) Get(ctx context.Context, orderID string) (Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return Order{}, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return Order{}, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	return o, nil
}

// PaymentState reads only the payment attributes. The read is strongly
// consistent so a callback that already landed is never missed.
func (s *Store) PaymentState(ctx context.Context, orderID string) (PaymentState, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:            &s.tableName,
		Key:                  orderKey(orderID),
		ConsistentRead:       awsBool(true),
		ProjectionExpression: awsString("payment_status, payment_error, transaction_ref"),
	})
	if err != nil {
		return PaymentState{}, fmt.Errorf("get payment state: %w", err)
	}
	if len(out.Item) == 0 {
		return PaymentState{}, ErrNotFound
	}
	var st PaymentState
	if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
		return PaymentState{}, fmt.Errorf("unmarshal payment state: %w", err)
	}
	return st, nil
}

// TransitionPayment moves payment_status from tr.Expected to tr.Next.
// Returns ErrPreconditionFailed if the current status is not tr.Expected.
func (s *Store) TransitionPayment(ctx context.Context, orderID string, tr Transition) error {
	now := s.nowFunc().UTC()
	updateExpr := "SET payment_status = :new, payment_error = :detail, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberS{Value: string(tr.Expected)},
		":new":      &types.AttributeValueMemberS{Value: string(tr.Next)},
		":detail":   &types.AttributeValueMemberS{Value: tr.Detail},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if tr.TransactionRef != "" {
		updateExpr += ", transaction_ref = :ref"
		values[":ref"] = &types.AttributeValueMemberS{Value: tr.TransactionRef}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString(condPaymentStatus),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return s.conditionFailure(ctx, orderID)
		}
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// RequestCancel flips the fulfillment status to cancelled only while the
// payment status still equals expected and is not completed.
func (s *Store) RequestCancel(ctx context.Context, orderID string, expected PaymentStatus) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :cancelled, updated_at = :ua"),
		ConditionExpression:      awsString(condCancel),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected":  &types.AttributeValueMemberS{Value: string(expected)},
			":paid":      &types.AttributeValueMemberS{Value: string(PaymentCompleted)},
			":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			":done":      &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":ua":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return s.conditionFailure(ctx, orderID)
		}
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// conditionFailure tells a missing order apart from a failed precondition.
func (s *Store) conditionFailure(ctx context.Context, orderID string) error {
	if _, err := s.Get(ctx, orderID); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
