package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"

	"github.com/GautamJagannath/entrada/internal/forms"
	"github.com/GautamJagannath/entrada/internal/generate"
)

var testKey = generate.CacheKey{CaseID: "case-1", Version: 7, Type: forms.GC210}

func TestDocumentCacheGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	cache, err := NewDocumentCache(client, time.Minute)
	require.NoError(t, err)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "entrada:document:case-1:7:GC-210")).
		Return(mock.Result(mock.ValkeyString("%PDF-1.4")))

	data, found, err := cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestDocumentCacheMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	cache, err := NewDocumentCache(client, time.Minute)
	require.NoError(t, err)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", testKey.String())).
		Return(mock.Result(mock.ValkeyNil()))

	data, found, err := cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestDocumentCacheGetError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	cache, err := NewDocumentCache(client, time.Minute)
	require.NoError(t, err)

	connectionErr := errors.New("connection reset")
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", testKey.String())).
		Return(mock.ErrorResult(connectionErr))

	_, found, err := cache.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, connectionErr)
	assert.False(t, found)
}

func TestDocumentCachePutUsesTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	cache, err := NewDocumentCache(client, 90*time.Second)
	require.NoError(t, err)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("SET", testKey.String(), "%PDF-1.4", "EX", "90")).
		Return(mock.Result(mock.ValkeyString("OK")))

	require.NoError(t, cache.Put(context.Background(), testKey, []byte("%PDF-1.4")))
}

func TestNewDocumentCacheValidatesInput(t *testing.T) {
	_, err := NewDocumentCache(nil, time.Minute)
	assert.ErrorIs(t, err, errMissingClient)
	_, err = NewClient(" , ")
	assert.ErrorIs(t, err, errMissingAddress)
}
