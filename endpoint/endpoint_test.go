package endpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesar0301/relogger/errors"
)

func TestResolveHosts(t *testing.T) {
	tests := []struct {
		name      string
		hosts     string
		network   string
		wantAddrs []string
		wantError bool
	}{
		{
			name:      "single host with port",
			hosts:     "localhost:5140",
			network:   "udp",
			wantAddrs: []string{"localhost:5140"},
		},
		{
			name:      "comma separated list preserves order",
			hosts:     "localhost:6001, localhost:6002",
			network:   "udp",
			wantAddrs: []string{"localhost:6001", "localhost:6002"},
		},
		{
			name:      "host without port gets syslog default",
			hosts:     "10.50.200.100",
			network:   "udp",
			wantAddrs: []string{"10.50.200.100:514"},
		},
		{
			name:      "duplicates dropped keeping first",
			hosts:     "localhost:6001,localhost:6002,localhost:6001",
			network:   "tcp",
			wantAddrs: []string{"localhost:6001", "localhost:6002"},
		},
		{
			name:      "invalid hostname rejected",
			hosts:     "bad_host!:514",
			network:   "udp",
			wantError: true,
		},
		{
			name:      "invalid port rejected",
			hosts:     "localhost:99999",
			network:   "udp",
			wantError: true,
		},
		{
			name:      "empty list rejected",
			hosts:     " , ",
			network:   "udp",
			wantError: true,
		},
		{
			name:      "unsupported network rejected",
			hosts:     "localhost:514",
			network:   "sctp",
			wantError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			descs, err := ResolveHosts(KindConnect, test.network, test.hosts)
			if test.wantError {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err), "resolution errors should classify as invalid")
				return
			}
			require.NoError(t, err)
			var addrs []string
			for _, d := range descs {
				assert.Equal(t, KindConnect, d.Kind)
				assert.Equal(t, test.network, d.Network)
				addrs = append(addrs, d.Address)
			}
			assert.Equal(t, test.wantAddrs, addrs)
		})
	}
}

func TestResolveHostsRejectsFileKinds(t *testing.T) {
	_, err := ResolveHosts(KindReadFile, "udp", "localhost:514")
	require.Error(t, err)
}

func TestResolvePorts(t *testing.T) {
	descs, err := ResolvePorts("udp", "514, 515")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "localhost:514", descs[0].Address)
	assert.Equal(t, "localhost:515", descs[1].Address)
	assert.Equal(t, KindListen, descs[0].Kind)

	_, err = ResolvePorts("udp", "not-a-port")
	require.Error(t, err)
}

func TestResolveFile(t *testing.T) {
	d, err := ResolveFile(KindReadFile, "file:///var/log/input.log", "", true)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/input.log", d.Path)
	assert.True(t, d.Follow)
	assert.Equal(t, "file:///var/log/input.log", d.String())

	// Relative paths resolve against the config directory
	d, err = ResolveFile(KindWriteFile, "out.log", "/etc/relogger", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/etc/relogger", "out.log"), d.Path)

	_, err = ResolveFile(KindWriteFile, "out.log", "", true)
	require.Error(t, err, "follow on a write descriptor is invalid")

	_, err = ResolveFile(KindReadFile, "  ", "", false)
	require.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	d, err := ResolveURL(KindNATS, "nats://127.0.0.1:4222/logs.rule1")
	require.NoError(t, err)
	assert.Equal(t, KindNATS, d.Kind)

	d, err = ResolveURL(KindRedis, "redis://127.0.0.1:6379/0?key=relogger")
	require.NoError(t, err)
	assert.Equal(t, KindRedis, d.Kind)

	_, err = ResolveURL(KindNATS, "http://example.com")
	require.Error(t, err)
	_, err = ResolveURL(KindListen, "nats://x")
	require.Error(t, err)
}

func TestDescriptorPrivileged(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want bool
	}{
		{"listen on 514", Descriptor{Kind: KindListen, Network: "udp", Address: "0.0.0.0:514"}, true},
		{"listen on 1023", Descriptor{Kind: KindListen, Network: "tcp", Address: "localhost:1023"}, true},
		{"listen on 1024", Descriptor{Kind: KindListen, Network: "udp", Address: "localhost:1024"}, false},
		{"connect to 514 needs no privilege", Descriptor{Kind: KindConnect, Network: "udp", Address: "localhost:514"}, false},
		{"file never privileged", Descriptor{Kind: KindReadFile, Path: "/x"}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.desc.Privileged())
		})
	}
}

func TestDescriptorString(t *testing.T) {
	assert.Equal(t, "udp://localhost:514",
		Descriptor{Kind: KindListen, Network: "udp", Address: "localhost:514"}.String())
	assert.Equal(t, "tcp://10.0.0.1:6000",
		Descriptor{Kind: KindConnect, Network: "tcp", Address: "10.0.0.1:6000"}.String())
	assert.Equal(t, "nats://h:4222/s",
		Descriptor{Kind: KindNATS, URL: "nats://h:4222/s"}.String())
}
