package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/config"
	"github.com/sparedes88/projector/pkg/store"
)

func TestOpenStoresMemory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreMemory}
	st, err := openStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &store.Memory{}, st.screens)
	assert.IsType(t, &store.Memory{}, st.songs)
}

func TestOpenStoresRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{Store: config.StoreRedis, RedisAddr: mr.Addr(), RedisPrefix: "p"}
	st, err := openStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &store.Redis{}, st.screens)
	assert.IsType(t, &store.Redis{}, st.signals)
}

func TestOpenStoresRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := openStores(ctx, &config.Config{Store: config.StoreRedis, RedisAddr: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewServerServesAPI(t *testing.T) {
	cfg := &config.Config{Store: config.StoreMemory, AssistURL: "http://127.0.0.1:1", AssistTimeout: time.Second}
	st, err := openStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	srv := newServer(cfg, st, zap.NewNop())
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
