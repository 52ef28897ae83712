package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-rpc/codec"
	"bridge-rpc/fault"
	"bridge-rpc/stubpeer"
)

func startPeer(t *testing.T) *stubpeer.Peer {
	t.Helper()
	p := stubpeer.New()
	require.NoError(t, p.Listen("tcp", "127.0.0.1:0"))
	go p.Serve()
	t.Cleanup(func() { p.Shutdown(3 * time.Second) })
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flags = globalFlags{}
	rootCmd.PersistentFlags().Lookup("log-level").Changed = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseArg(t *testing.T) {
	assert.Equal(t, int64(42), parseArg("42"))
	assert.Equal(t, 1.5, parseArg("1.5"))
	assert.Equal(t, true, parseArg("true"))
	assert.Nil(t, parseArg("null"))
	assert.Equal(t, "42", parseArg("=42"))
	assert.Equal(t, "hello", parseArg("hello"))
}

func TestCommands(t *testing.T) {
	p := startPeer(t)
	address := "tcp://" + p.Addr() + "/JavaBridge"

	out, err := run(t, "--address", address, "classname", "java.math.BigInteger", "5")
	require.NoError(t, err)
	assert.Equal(t, "java.math.BigInteger\n", out)

	out, err = run(t, "--address", address, "inspect", "java.lang.String", "=abc")
	require.NoError(t, err)
	assert.Contains(t, out, "[class java.lang.String:")

	out, err = run(t, "--address", address, "invoke", "java.sql.DriverManager", "getConnection",
		"jdbc:mysql://localhost/test?user=root")
	require.NoError(t, err)
	assert.Contains(t, out, "jdbc:mysql://localhost/test?user=root")

	out, err = run(t, "--address", address, "version")
	require.NoError(t, err)
	assert.Contains(t, out, stubpeer.DefaultVersion)

	// 每个命令一个会话，结束时关闭
	assert.Equal(t, int64(4), p.Handshakes())
}

func TestCommandConfigFile(t *testing.T) {
	p := startPeer(t)
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: tcp://"+p.Addr()+"/JavaBridge\ncodec: json\n"), 0o600))

	out, err := run(t, "--config", path, "--timeout", "2s", "classname", "java.util.ArrayList")
	require.NoError(t, err)
	assert.Equal(t, "java.util.ArrayList\n", out)
	assert.Equal(t, byte(codec.CodecTypeJSON), p.LastHandshake().CodecType)
	assert.Nil(t, p.LastHandshake().LogLevel, "no level was asked for")
}

func TestCommandLogLevel(t *testing.T) {
	p := startPeer(t)
	address := "tcp://" + p.Addr() + "/JavaBridge"

	_, err := run(t, "--address", address, "classname", "java.util.ArrayList")
	require.NoError(t, err)
	assert.Nil(t, p.LastHandshake().LogLevel)

	_, err = run(t, "--address", address, "--log-level", "0", "classname", "java.util.ArrayList")
	require.NoError(t, err)
	require.NotNil(t, p.LastHandshake().LogLevel)
	assert.Equal(t, 0, *p.LastHandshake().LogLevel)
}

func TestCommandErrors(t *testing.T) {
	_, err := run(t, "classname", "java.math.BigInteger")
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	p := startPeer(t)
	_, err = run(t, "--address", "tcp://"+p.Addr()+"/JavaBridge", "invoke", "no.such.Class", "x")
	assert.ErrorIs(t, err, fault.ErrRemote)
}
