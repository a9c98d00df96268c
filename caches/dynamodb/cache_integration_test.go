//go:build integration

package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/offlinecache/go-offline-cache"
)

func setup(t *testing.T) (*dynamodb.Client, error) {
	t.Log("setup called")

	awsconfig, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion("local"))
	if err != nil {
		return nil, err
	}

	c := dynamodb.NewFromConfig(awsconfig)

	if err := createTable(context.Background(), c, "test"); err != nil {
		return nil, err
	}

	return c, nil
}

func cleanup(t *testing.T, c *dynamodb.Client) {
	t.Log("cleanup called")

	output, err := c.ListTables(context.Background(), &dynamodb.ListTablesInput{})
	if err != nil {
		t.Log(err)
		return
	}

	for _, v := range output.TableNames {
		if _, err := c.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{
			TableName: aws.String(v),
		}); err != nil {
			t.Log(err)
		}
	}
}

func TestStoreIntegration(t *testing.T) {
	client, err := setup(t)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanup(t, client)
	})

	ctx := context.Background()

	store, err := New(ctx, client, &Config{Table: "test"})
	require.NoError(t, err)

	static, err := store.Open(ctx, "static-v1")
	require.NoError(t, err)
	stale, err := store.Open(ctx, "static-v0")
	require.NoError(t, err)

	item := &offlinecache.CacheItem{
		Response: []byte("HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\noffline"),
		StoredAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, static.Set(ctx, "GET#/offline.html", item))
	require.NoError(t, stale.Set(ctx, "GET#/offline.html", item))

	got, err := static.Get(ctx, "GET#/offline.html")
	require.NoError(t, err)
	assert.Equal(t, item.Response, got.Response)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v0", "static-v1"}, names)

	require.NoError(t, store.Delete(ctx, "static-v0"))

	names, err = store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v1"}, names)

	_, err = static.Get(ctx, "GET#/offline.html")
	assert.NoError(t, err)
}
