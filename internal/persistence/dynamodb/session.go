// Package dynamodb implements persistence.Session on Amazon DynamoDB.
//
// Each logical table becomes one DynamoDB table named
// <prefix><keyspace>_<table> with a string hash key PK (the partition), a
// string range key SK (the clustering key) and an optional binary value
// attribute V. DynamoDB keeps items of one PK sorted by SK, which gives the
// clustering order queries rely on.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

const (
	attrPartition  = "PK"
	attrClustering = "SK"

	defaultTableWait = 2 * time.Minute
)

// API is the subset of the DynamoDB client the session uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Options configures the session.
type Options struct {
	Region      string
	Endpoint    string
	TablePrefix string
	// TableWait bounds how long CreateTable waits for a new table to
	// become active.
	TableWait time.Duration
	Logger    *zap.Logger
}

// item is the stored shape of one row.
type item struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	V  []byte `dynamodbav:"V,omitempty"`
}

type key struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
}

// Session is a persistence.Session backed by DynamoDB.
type Session struct {
	client   API
	keyspace string
	opts     Options
	logger   *zap.Logger
}

var _ persistence.Session = (*Session)(nil)

// Connect loads the default AWS configuration and creates a session.
func Connect(ctx context.Context, keyspace string, opts Options) (*Session, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, appErrors.NewConnectivityError("load aws config", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return New(client, keyspace, opts), nil
}

// New creates a session on an existing client.
func New(client API, keyspace string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TableWait <= 0 {
		opts.TableWait = defaultTableWait
	}
	return &Session{
		client:   client,
		keyspace: keyspace,
		opts:     opts,
		logger:   opts.Logger.Named("dynamodb"),
	}
}

// Keyspace implements persistence.Session.
func (s *Session) Keyspace() string {
	return s.keyspace
}

// TableName returns the physical table backing a logical table.
func (s *Session) TableName(table string) string {
	return fmt.Sprintf("%s%s_%s", s.opts.TablePrefix, s.keyspace, table)
}

// CreateKeyspace implements persistence.Session. DynamoDB replicates every
// table itself, so there is nothing to create.
func (s *Session) CreateKeyspace(ctx context.Context, spec persistence.KeyspaceSpec) error {
	s.logger.Debug("keyspace replication is managed by DynamoDB",
		zap.String("keyspace", spec.Name),
		zap.String("strategy", spec.Strategy),
		zap.Int("replication_factor", spec.ReplicationFactor),
	)
	return nil
}

// CreateTable implements persistence.Session. It creates the table if it
// does not exist and waits until it is active.
func (s *Session) CreateTable(ctx context.Context, spec persistence.TableSpec) error {
	name := s.TableName(spec.Name)

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return s.waitActive(ctx, name)
	}
	if !isCode(err, "ResourceNotFoundException") {
		return appErrors.NewSchemaError(name, classify("describe table", err))
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPartition), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrClustering), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPartition), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrClustering), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil && !isCode(err, "ResourceInUseException") {
		return appErrors.NewSchemaError(name, classify("create table", err))
	}

	s.logger.Info("table created", zap.String("table", name))
	return s.waitActive(ctx, name)
}

func (s *Session) waitActive(ctx context.Context, name string) error {
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, s.opts.TableWait); err != nil {
		return appErrors.NewSchemaError(name, err)
	}
	return nil
}

// Execute implements persistence.Session.
func (s *Session) Execute(ctx context.Context, stmt persistence.Statement) (*persistence.ResultSet, error) {
	if err := stmt.Validate(); err != nil {
		return nil, err
	}
	table := aws.String(s.TableName(stmt.Table))

	switch stmt.Op {
	case persistence.OpPut:
		av, err := attributevalue.MarshalMap(item{PK: stmt.Partition, SK: stmt.Clustering, V: stmt.Value})
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to marshal row")
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: av}); err != nil {
			return nil, classify("put", err)
		}
		return &persistence.ResultSet{}, nil

	case persistence.OpDelete:
		k, err := attributevalue.MarshalMap(key{PK: stmt.Partition, SK: stmt.Clustering})
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to marshal key")
		}
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: table, Key: k}); err != nil {
			return nil, classify("delete", err)
		}
		return &persistence.ResultSet{}, nil

	case persistence.OpGet:
		k, err := attributevalue.MarshalMap(key{PK: stmt.Partition, SK: stmt.Clustering})
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to marshal key")
		}
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      table,
			Key:            k,
			ConsistentRead: aws.Bool(stmt.Consistency.Strong()),
		})
		if err != nil {
			return nil, classify("get", err)
		}
		rs := &persistence.ResultSet{}
		if len(out.Item) > 0 {
			row, err := toRow(out.Item)
			if err != nil {
				return nil, err
			}
			rs.Rows = append(rs.Rows, row)
		}
		return rs, nil

	default:
		return s.query(ctx, table, stmt)
	}
}

func (s *Session) query(ctx context.Context, table *string, stmt persistence.Statement) (*persistence.ResultSet, error) {
	keyCond := expression.Key(attrPartition).Equal(expression.Value(stmt.Partition))
	if stmt.ClusteringPrefix != "" {
		keyCond = keyCond.And(expression.Key(attrClustering).BeginsWith(stmt.ClusteringPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build key condition")
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 table,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(stmt.Consistency.Strong()),
	})

	rs := &persistence.ResultSet{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("query", err)
		}
		for _, av := range page.Items {
			row, err := toRow(av)
			if err != nil {
				return nil, err
			}
			rs.Rows = append(rs.Rows, row)
		}
	}
	return rs, nil
}

// Partitions implements persistence.Session with a key-only table scan.
// Scan returns items in no particular order, so distinct keys are tracked
// in memory for the duration of the call.
func (s *Session) Partitions(ctx context.Context, table string, fn func(partition string) error) error {
	proj := expression.NamesList(expression.Name(attrPartition))
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return appErrors.Wrap(err, "failed to build projection")
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.TableName(table)),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})

	seen := make(map[string]struct{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("scan", err)
		}
		for _, av := range page.Items {
			var k key
			if err := attributevalue.UnmarshalMap(av, &k); err != nil {
				return appErrors.Wrap(err, "failed to unmarshal partition key")
			}
			if _, dup := seen[k.PK]; dup {
				continue
			}
			seen[k.PK] = struct{}{}
			if err := fn(k.PK); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close implements persistence.Session. The SDK client holds no resources
// that need releasing.
func (s *Session) Close() error {
	return nil
}

func toRow(av map[string]types.AttributeValue) (persistence.Row, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return persistence.Row{}, appErrors.Wrap(err, "failed to unmarshal row")
	}
	return persistence.Row{Partition: it.PK, Clustering: it.SK, Value: it.V}, nil
}

var connectivityCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"LimitExceededException":                 true,
	"TransactionConflictException":           true,
}

// classify maps SDK errors onto the error taxonomy. Errors without an API
// error code never reached the service and are treated as connectivity
// failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	code := errorCode(err)
	switch {
	case code == "":
		return appErrors.NewConnectivityError(op, err)
	case connectivityCodes[code]:
		return appErrors.NewConnectivityError(op, err).WithCode(code)
	case code == "ResourceNotFoundException":
		return appErrors.NewSchemaError(op, err).WithCode(code)
	case code == "ValidationException":
		return appErrors.NewValidationError(fmt.Sprintf("%s rejected: %v", op, err)).WithCode(code).WithCause(err)
	default:
		return appErrors.NewInternalError(fmt.Sprintf("dynamodb %s failed", op)).WithCode(code).WithCause(err)
	}
}

func isCode(err error, code string) bool {
	return errorCode(err) == code
}

func errorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
