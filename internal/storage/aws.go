package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inseam/inseam/internal/domain"
)

// AWSStorage implements Store on a single DynamoDB table plus an S3
// archive bucket. Checkpoint items carry a TTL so DynamoDB prunes old
// processed-email records without a maintenance job.
type AWSStorage struct {
	dynamoDB      *dynamodb.Client
	s3Client      *s3.Client
	tableName     string
	archiveBucket string
	checkpointTTL time.Duration
}

// dynamoItem is the single-table layout. Checkpoints use
// PK=USER#<id>#EMAIL / SK=<emailID>; workflows use
// PK=USER#<id>#WORKFLOW / SK=<workflowID>.
type dynamoItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data,omitempty"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

func checkpointPK(userID string) string { return fmt.Sprintf("USER#%s#EMAIL", userID) }
func workflowPK(userID string) string   { return fmt.Sprintf("USER#%s#WORKFLOW", userID) }

// NewAWSStorage builds the DynamoDB and S3 clients from the default
// credential chain, with an optional shared-config profile for local use.
func NewAWSStorage(ctx context.Context, tableName, archiveBucket, region, profile string, checkpointTTL time.Duration) (*AWSStorage, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWSStorage{
		dynamoDB:      dynamodb.NewFromConfig(cfg),
		s3Client:      s3.NewFromConfig(cfg),
		tableName:     tableName,
		archiveBucket: archiveBucket,
		checkpointTTL: checkpointTTL,
	}, nil
}

// FilterUnprocessed batch-reads checkpoint items (100 keys per
// BatchGetItem, the DynamoDB limit) and returns the IDs with no record.
func (s *AWSStorage) FilterUnprocessed(ctx context.Context, userID string, emailIDs []string) ([]string, error) {
	if len(emailIDs) == 0 {
		return nil, nil
	}

	processed := make(map[string]bool, len(emailIDs))
	pk := checkpointPK(userID)

	for start := 0; start < len(emailIDs); start += 100 {
		end := start + 100
		if end > len(emailIDs) {
			end = len(emailIDs)
		}

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range emailIDs[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: id},
			})
		}

		req := map[string]types.KeysAndAttributes{s.tableName: {Keys: keys}}
		for len(req) > 0 {
			out, err := s.dynamoDB.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: req,
			})
			if err != nil {
				return nil, fmt.Errorf("reading checkpoints: %w", err)
			}
			for _, item := range out.Responses[s.tableName] {
				if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
					processed[sk.Value] = true
				}
			}
			req = out.UnprocessedKeys
		}
	}

	var unprocessed []string
	for _, id := range emailIDs {
		if !processed[id] {
			unprocessed = append(unprocessed, id)
		}
	}
	return unprocessed, nil
}

// MarkProcessed writes checkpoint items in BatchWriteItem chunks of 25.
func (s *AWSStorage) MarkProcessed(ctx context.Context, userID string, emailIDs []string) error {
	if len(emailIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	pk := checkpointPK(userID)

	for start := 0; start < len(emailIDs); start += 25 {
		end := start + 25
		if end > len(emailIDs) {
			end = len(emailIDs)
		}

		writes := make([]types.WriteRequest, 0, end-start)
		for _, id := range emailIDs[start:end] {
			av, err := attributevalue.MarshalMap(dynamoItem{
				PK:        pk,
				SK:        id,
				Timestamp: now.Format(time.RFC3339),
				TTL:       now.Add(s.checkpointTTL).Unix(),
			})
			if err != nil {
				return fmt.Errorf("marshaling checkpoint: %w", err)
			}
			writes = append(writes, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: av},
			})
		}

		req := map[string][]types.WriteRequest{s.tableName: writes}
		for len(req) > 0 {
			out, err := s.dynamoDB.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: req,
			})
			if err != nil {
				return fmt.Errorf("writing checkpoints: %w", err)
			}
			req = out.UnprocessedItems
		}
	}
	return nil
}

// SaveWorkflowStatus upserts the run record. Workflow items share the
// checkpoint TTL so stale runs age out with their checkpoints.
func (s *AWSStorage) SaveWorkflowStatus(ctx context.Context, ws *WorkflowStatus) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshaling workflow status: %w", err)
	}

	av, err := attributevalue.MarshalMap(dynamoItem{
		PK:        workflowPK(ws.UserID),
		SK:        ws.ID,
		Data:      string(data),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TTL:       time.Now().Add(s.checkpointTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling workflow item: %w", err)
	}

	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting workflow status: %w", err)
	}
	return nil
}

func (s *AWSStorage) GetWorkflowStatus(ctx context.Context, userID, workflowID string) (*WorkflowStatus, error) {
	out, err := s.dynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: workflowPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: workflowID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting workflow status: %w", err)
	}
	if out.Item == nil {
		return nil, ErrWorkflowNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow item: %w", err)
	}

	ws := &WorkflowStatus{}
	if err := json.Unmarshal([]byte(item.Data), ws); err != nil {
		return nil, fmt.Errorf("decoding workflow status: %w", err)
	}
	ws.ID = workflowID
	ws.UserID = userID
	return ws, nil
}

// ArchiveEmail writes the raw message to
// s3://<bucket>/emails/<userID>/<emailID>.json.
func (s *AWSStorage) ArchiveEmail(ctx context.Context, userID string, email domain.Email) error {
	data, err := json.MarshalIndent(email, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling email: %w", err)
	}

	key := fmt.Sprintf("emails/%s/%s.json", userID, email.ID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archiving email to S3: %w", err)
	}
	return nil
}
