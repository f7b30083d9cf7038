package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/sut"
)

func poolSUT() *sut.Config {
	return &sut.Config{
		Name: "pool-test",
		Services: map[string]*sut.Service{
			"api": {
				Protocol: sut.ProtocolHTTP,
				HTTP:     &sut.HTTPService{BaseURL: "http://localhost:8080", TimeoutSeconds: 3},
			},
			"payments": {
				Protocol: sut.ProtocolGRPC,
				GRPC:     &sut.GRPCService{Host: "localhost", Port: 50051},
			},
		},
	}
}

func TestHTTPClientReuse(t *testing.T) {
	pool := NewClientPool(poolSUT())
	t.Cleanup(func() { _ = pool.CloseAll() })

	c1, err := pool.GetHTTPClient("api")
	require.NoError(t, err)
	c2, err := pool.GetHTTPClient("api")
	require.NoError(t, err)

	// Один клиент на сервис, per-instance клиентов нет
	assert.Same(t, c1, c2)
	assert.Equal(t, poolSUT().Services["api"].Timeout(), c1.Timeout)
}

func TestGRPCChannelReuse(t *testing.T) {
	pool := NewClientPool(poolSUT())
	t.Cleanup(func() { _ = pool.CloseAll() })

	ch1, err := pool.GetGRPCChannel("payments")
	require.NoError(t, err)
	ch2, err := pool.GetGRPCChannel("payments")
	require.NoError(t, err)

	assert.Same(t, ch1, ch2)
}

func TestProtocolMismatch(t *testing.T) {
	pool := NewClientPool(poolSUT())
	t.Cleanup(func() { _ = pool.CloseAll() })

	_, err := pool.GetHTTPClient("payments")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeProtocolMismatch, apperror.Code(err))

	_, err = pool.GetGRPCChannel("api")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeProtocolMismatch, apperror.Code(err))
}

func TestUnknownService(t *testing.T) {
	pool := NewClientPool(poolSUT())
	t.Cleanup(func() { _ = pool.CloseAll() })

	_, err := pool.GetHTTPClient("missing")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeServiceNotFound, apperror.Code(err))
}

func TestCloseAllResetsPool(t *testing.T) {
	pool := NewClientPool(poolSUT())

	first, err := pool.GetHTTPClient("api")
	require.NoError(t, err)
	_, err = pool.GetGRPCChannel("payments")
	require.NoError(t, err)

	require.NoError(t, pool.CloseAll())

	// После закрытия клиенты пересоздаются
	second, err := pool.GetHTTPClient("api")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, pool.CloseAll())
}
