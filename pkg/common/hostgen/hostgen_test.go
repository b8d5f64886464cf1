package hostgen

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHost(t *testing.T) {
	addr, err := ResolveHost("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", addr)

	addr, err = ResolveHost("127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	assert.Greater(t, p, 0)

	addr, err = ResolveHost("0.0.0.0:9000")
	require.NoError(t, err)
	host, _, _ := net.SplitHostPort(addr)
	assert.NotEqual(t, "0.0.0.0", host)

	_, err = ResolveHost("no-port")
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestValidListenHost(t *testing.T) {
	assert.True(t, ValidListenHost("127.0.0.1:4318"))
	assert.True(t, ValidListenHost("localhost:4318"))
	assert.True(t, ValidListenHost("[::1]:4318"))
	assert.False(t, ValidListenHost("127.0.0.1:0"))
	assert.False(t, ValidListenHost("collector"))
}
