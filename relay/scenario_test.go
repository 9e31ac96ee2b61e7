package relay

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesar0301/relogger/config"
	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/flowtable"
	udpin "github.com/caesar0301/relogger/input/udp"
)

func udpReceiver(t *testing.T) (net.PacketConn, string) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, pc.LocalAddr().String()
}

func readDatagrams(t *testing.T, pc net.PacketConn, n int) []string {
	t.Helper()
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(3*time.Second)))
	var out []string
	buf := make([]byte, 2048)
	for len(out) < n {
		size, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		out = append(out, string(buf[:size]))
	}
	return out
}

func TestUDPListenerFansOutToTwoReceivers(t *testing.T) {
	recvA, addrA := udpReceiver(t)
	recvB, addrB := udpReceiver(t)

	table, err := flowtable.Build([]config.Rule{{
		Name: "edge",
		Sources: []endpoint.Descriptor{
			{Kind: endpoint.KindListen, Network: "udp", Address: "127.0.0.1:0"},
		},
		Sinks: []endpoint.Descriptor{
			{Kind: endpoint.KindConnect, Network: "udp", Address: addrA},
			{Kind: endpoint.KindConnect, Network: "udp", Address: addrB},
		},
	}}, flowtable.Deps{})
	require.NoError(t, err)

	srv := NewServer(Deps{Table: table})
	require.NoError(t, srv.Start(context.Background()))
	defer func() { _ = srv.Stop(time.Second) }()

	listener, ok := table.Lookup("edge").Sources[0].(*udpin.Source)
	require.True(t, ok)
	sender, err := net.Dial("udp", listener.LocalAddr())
	require.NoError(t, err)
	defer func() { _ = sender.Close() }()

	lines := []string{"<14>relay one", "<14>relay two", "<14>relay three"}
	for _, line := range lines {
		_, err := sender.Write([]byte(line))
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, lines, readDatagrams(t, recvA, len(lines)))
	assert.ElementsMatch(t, lines, readDatagrams(t, recvB, len(lines)))

	require.NoError(t, srv.Stop(time.Second))
}

func TestFileReplayDrainsToFileAndFinishes(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.log")
	outPath := filepath.Join(dir, "out.log")
	require.NoError(t, os.WriteFile(inPath, []byte("l1\nl2\nl3\n"), 0o644))

	table, err := flowtable.Build([]config.Rule{{
		Name: "replay",
		Sources: []endpoint.Descriptor{
			{Kind: endpoint.KindReadFile, Path: inPath},
		},
		Sinks: []endpoint.Descriptor{
			{Kind: endpoint.KindWriteFile, Path: outPath},
		},
	}}, flowtable.Deps{})
	require.NoError(t, err)

	srv := NewServer(Deps{Table: table})
	require.NoError(t, srv.Start(context.Background()))

	fs := awaitFlowState(t, srv, "replay", FlowDead)
	assert.NoError(t, fs.Sources[0].LastErr, "a drained replay is finished, not failed")

	require.NoError(t, srv.Stop(time.Second))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\nl3\n", string(data))
}

func TestBindConflictAbortsStartAndReleasesPorts(t *testing.T) {
	taken, takenAddr := udpReceiver(t)
	defer func() { _ = taken.Close() }()
	_, dstAddr := udpReceiver(t)

	// The first flow binds a free port; the second collides with an
	// already-bound one. Start must fail and give the free port back.
	free, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	freeAddr := free.LocalAddr().String()
	require.NoError(t, free.Close())

	table, err := flowtable.Build([]config.Rule{
		{
			Name: "fine",
			Sources: []endpoint.Descriptor{
				{Kind: endpoint.KindListen, Network: "udp", Address: freeAddr},
			},
			Sinks: []endpoint.Descriptor{
				{Kind: endpoint.KindConnect, Network: "udp", Address: dstAddr},
			},
		},
		{
			Name: "conflicted",
			Sources: []endpoint.Descriptor{
				{Kind: endpoint.KindListen, Network: "udp", Address: takenAddr},
			},
			Sinks: []endpoint.Descriptor{
				{Kind: endpoint.KindConnect, Network: "udp", Address: dstAddr},
			},
		},
	}, flowtable.Deps{})
	require.NoError(t, err)

	srv := NewServer(Deps{Table: table})
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `flow "conflicted"`)
	assert.Contains(t, err.Error(), takenAddr)
	assert.Equal(t, StateIdle, srv.State())

	// Rollback released the first flow's port: it can be bound again.
	rebound, err := net.ListenPacket("udp", freeAddr)
	require.NoError(t, err)
	require.NoError(t, rebound.Close())
}
