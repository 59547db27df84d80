package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/podushkina/sarflow/internal/task"
)

type dynamoItem struct {
	TaskID    string `dynamodbav:"task_id"`
	JobID     string `dynamodbav:"job_id"`
	Status    string `dynamodbav:"status"`
	Payload   string `dynamodbav:"payload"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Dynamo archives task views in a table keyed by task_id. expires_at is
// meant to be the table's TTL attribute.
type Dynamo struct {
	db        dynamoAPI
	tableName string
	ttl       time.Duration
}

func NewDynamo(ctx context.Context, region, table, endpoint string, ttl time.Duration) (*Dynamo, error) {
	if table == "" {
		return nil, fmt.Errorf("DYNAMO_TABLE is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &Dynamo{db: client, tableName: table, ttl: ttl}, nil
}

func (d *Dynamo) Close() error {
	return nil
}

func (d *Dynamo) Put(ctx context.Context, t *task.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	item, err := attributevalue.MarshalMap(dynamoItem{
		TaskID:    t.ID,
		JobID:     t.JobID,
		Status:    string(t.Status),
		Payload:   string(payload),
		ExpiresAt: time.Now().Add(d.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = d.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

func (d *Dynamo) Get(ctx context.Context, id string) (*task.Task, error) {
	out, err := d.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if item.ExpiresAt > 0 && time.Now().Unix() > item.ExpiresAt {
		return nil, nil
	}

	var t task.Task
	if err := json.Unmarshal([]byte(item.Payload), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}
