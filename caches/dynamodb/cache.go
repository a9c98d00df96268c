package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches"
)

// batchDeleteSize is the DynamoDB BatchWriteItem limit.
const batchDeleteSize = 25

// Config defines the configuration options for the DynamoDB store implementation.
type Config struct {
	Table string
}

// Store implements the offlinecache.Store interface using Amazon DynamoDB as
// the storage backend. Generations share one table keyed by the generation
// name (partition) and the cache key (sort), so a generation can be
// enumerated and destroyed by partition.
type Store struct {
	client *dynamodb.Client

	table string
	now   func() time.Time
}

type cacheItem struct {
	Generation string `json:"generation" dynamodbav:"generation"`
	CacheKey   string `json:"cache_key" dynamodbav:"cache_key"`
	Response   []byte `json:"response" dynamodbav:"response"`
	StoredAt   int64  `json:"stored_at" dynamodbav:"stored_at"`
}

// Open returns a handle on the named generation.
func (s *Store) Open(_ context.Context, name string) (offlinecache.Cache, error) {
	return &Cache{client: s.client, table: s.table, generation: name, now: s.now}, nil
}

// Names enumerates every generation that currently holds at least one item.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var names []string

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		ProjectionExpression: aws.String("generation"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			var ci cacheItem
			if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
				return nil, err
			}
			if !seen[ci.Generation] {
				seen[ci.Generation] = true
				names = append(names, ci.Generation)
			}
		}
	}

	return names, nil
}

// Delete destroys a generation by querying its keys and batch-deleting them.
func (s *Store) Delete(ctx context.Context, name string) error {
	gen, err := attributevalue.Marshal(name)
	if err != nil {
		return err
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("generation = :generation"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":generation": gen,
		},
		ProjectionExpression: aws.String("generation, cache_key"),
	})

	var writes []types.WriteRequest
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}

		for _, item := range page.Items {
			var ci cacheItem
			if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
				return err
			}

			key, err := attributevalue.Marshal(ci.CacheKey)
			if err != nil {
				return err
			}

			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"generation": gen,
						"cache_key":  key,
					},
				},
			})
		}
	}

	for len(writes) > 0 {
		n := min(batchDeleteSize, len(writes))

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.table: writes[:n],
			},
		})
		if err != nil {
			return err
		}

		writes = writes[n:]
	}

	return nil
}

// Cache is one generation backed by the shared table.
type Cache struct {
	client *dynamodb.Client

	table      string
	generation string
	now        func() time.Time
}

// Get retrieves a cache item by its key within this generation. Returns
// caches.ErrNoCacheItem if the item doesn't exist.
func (c *Cache) Get(ctx context.Context, k string) (*offlinecache.CacheItem, error) {
	gen, err := attributevalue.Marshal(c.generation)
	if err != nil {
		return nil, err
	}

	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			"generation": gen,
			"cache_key":  key,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	var ci offlinecache.CacheItem
	if err := gobDecode(item.Response, &ci); err != nil {
		return nil, err
	}

	return &ci, nil
}

// Set stores a cache item under the provided key, overwriting any previous
// entry wholesale.
func (c *Cache) Set(ctx context.Context, k string, v *offlinecache.CacheItem) error {
	encItem, err := gobEncode(v)
	if err != nil {
		return err
	}

	i := cacheItem{
		Generation: c.generation,
		CacheKey:   k,
		Response:   encItem,
		StoredAt:   c.now().Unix(),
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	input := dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	}

	_, err = c.client.PutItem(ctx, &input)
	return err
}

// New creates a new DynamoDB store instance with the provided configuration.
// Returns an error if the client is nil or if the configuration is invalid.
func New(_ context.Context, client *dynamodb.Client, config *Config) (*Store, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "missing table name",
		}
	}

	return &Store{
		client: client,

		table: config.Table,
		now:   time.Now,
	}, nil
}
