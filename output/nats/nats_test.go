package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

func natsDescriptor(rawURL string) endpoint.Descriptor {
	return endpoint.Descriptor{Kind: endpoint.KindNATS, URL: rawURL}
}

func TestNewSinkParsesSubjectFromPath(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantSubject string
		wantServer  string
		wantErr     bool
	}{
		{
			name:        "plain subject",
			url:         "nats://broker:4222/syslog",
			wantSubject: "syslog",
			wantServer:  "nats://broker:4222",
		},
		{
			name:        "dotted subject",
			url:         "nats://broker:4222/syslog.relay.edge",
			wantSubject: "syslog.relay.edge",
			wantServer:  "nats://broker:4222",
		},
		{
			name:        "trailing slash stripped",
			url:         "nats://broker:4222/syslog/",
			wantSubject: "syslog",
			wantServer:  "nats://broker:4222",
		},
		{
			name:    "missing subject",
			url:     "nats://broker:4222",
			wantErr: true,
		},
		{
			name:    "root path only",
			url:     "nats://broker:4222/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSink(SinkDeps{Descriptor: natsDescriptor(tt.url)})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, sink.subject)
			assert.Equal(t, tt.wantServer, sink.serverURL)
		})
	}
}

func TestWriteBeforeOpenFails(t *testing.T) {
	sink, err := NewSink(SinkDeps{Descriptor: natsDescriptor("nats://broker:4222/syslog")})
	require.NoError(t, err)

	err = sink.Write(context.Background(), record.New([]byte("early"), "test"))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestCloseWithoutOpenIsNoOp(t *testing.T) {
	sink, err := NewSink(SinkDeps{Descriptor: natsDescriptor("nats://broker:4222/syslog")})
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second close is a no-op")

	err = sink.Open(context.Background())
	assert.ErrorIs(t, err, errors.ErrAdapterClosed)
}
