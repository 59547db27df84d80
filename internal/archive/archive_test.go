package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	r, err := NewRedis(mr.Addr(), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	return r, mr
}

func finishedTask(id string, end time.Time) *task.Task {
	return &task.Task{
		ID:        id,
		JobID:     "job-" + id,
		Status:    task.StatusCompleted,
		Progress:  100,
		StartedAt: end.Add(-time.Minute),
		EndedAt:   &end,
		Steps: []task.StepResult{{
			Stage:  "deformation",
			Status: task.StepCompleted,
			Data:   task.DeformationData{MaxDisplacement: 0.012},
		}},
	}
}

func TestRedis_PutGet(t *testing.T) {
	r, mr := setupTestRedis(t)
	defer mr.Close()
	defer r.Close()
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, finishedTask("a", time.Now())))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusCompleted, got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, task.DeformationData{MaxDisplacement: 0.012}, got.Steps[0].Data)
}

func TestRedis_GetMissing(t *testing.T) {
	r, mr := setupTestRedis(t)
	defer mr.Close()

	got, err := r.Get(context.Background(), "missing")

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_Expiry(t *testing.T) {
	r, mr := setupTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, finishedTask("a", time.Now())))
	assert.Equal(t, []string{taskPrefix + "a"}, mr.Keys())
	mr.FastForward(2 * time.Hour)

	got, err := r.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Nil(t, got)
	// nothing outlives the archived payload
	assert.Empty(t, mr.Keys())
}

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Item["task_id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Key["task_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func TestDynamo_PutGet(t *testing.T) {
	d := &Dynamo{db: &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}, tableName: "tasks", ttl: time.Hour}
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, finishedTask("a", time.Now())))

	got, err := d.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-a", got.JobID)

	missing, err := d.Get(ctx, "b")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
