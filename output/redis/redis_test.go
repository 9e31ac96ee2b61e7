package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

func redisDescriptor(rawURL string) endpoint.Descriptor {
	return endpoint.Descriptor{Kind: endpoint.KindRedis, URL: rawURL}
}

func TestNewSinkParsesKeyAndOptions(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantKey  string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{
			name:     "default key",
			url:      "redis://cache:6379",
			wantKey:  "relogger",
			wantAddr: "cache:6379",
		},
		{
			name:     "explicit key and database",
			url:      "redis://cache:6379/2?key=syslog",
			wantKey:  "syslog",
			wantAddr: "cache:6379",
			wantDB:   2,
		},
		{
			name:    "malformed database path",
			url:     "redis://cache:6379/not-a-db",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSink(SinkDeps{Descriptor: redisDescriptor(tt.url)})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, sink.key)
			assert.Equal(t, tt.wantAddr, sink.opts.Addr)
			assert.Equal(t, tt.wantDB, sink.opts.DB)
		})
	}
}

func TestWriteBeforeOpenFails(t *testing.T) {
	sink, err := NewSink(SinkDeps{Descriptor: redisDescriptor("redis://cache:6379")})
	require.NoError(t, err)

	err = sink.Write(context.Background(), record.New([]byte("early"), "test"))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestCloseWithoutOpenIsNoOp(t *testing.T) {
	sink, err := NewSink(SinkDeps{Descriptor: redisDescriptor("redis://cache:6379")})
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second close is a no-op")

	err = sink.Open(context.Background())
	assert.ErrorIs(t, err, errors.ErrAdapterClosed)
}
