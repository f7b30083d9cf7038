// Package engine содержит ядро исполнения: пул клиентов, контекст
// инстанса, интерпретатор сценариев и параллельный исполнитель.
package engine

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/sut"
)

// ClientPool управляет клиентами на весь запуск: по одному HTTP клиенту
// и одному gRPC каналу на сервис. Клиенты создаются лениво при первом
// обращении и живут до закрытия пула. Per-instance клиенты не создаются
// никогда: конкурентные инстансы делят клиент сервиса.
type ClientPool struct {
	mu sync.Mutex

	sutConfig   *sut.Config
	httpClients map[string]*http.Client
	grpcConns   map[string]*grpc.ClientConn

	// Общий транспорт для всех HTTP клиентов
	transport *http.Transport
}

// NewClientPool создаёт пул клиентов для запуска
func NewClientPool(sutConfig *sut.Config) *ClientPool {
	return &ClientPool{
		sutConfig:   sutConfig,
		httpClients: make(map[string]*http.Client),
		grpcConns:   make(map[string]*grpc.ClientConn),
		transport: &http.Transport{
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 64,
		},
	}
}

// GetHTTPClient возвращает (или лениво создаёт) HTTP клиент сервиса
func (p *ClientPool) GetHTTPClient(serviceName string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.httpClients[serviceName]; ok {
		return client, nil
	}

	service, err := p.sutConfig.GetService(serviceName)
	if err != nil {
		return nil, err
	}
	if service.Protocol != sut.ProtocolHTTP {
		return nil, apperror.Newf(apperror.CodeProtocolMismatch,
			"service %q is not an HTTP service", serviceName)
	}

	client := &http.Client{
		Transport: p.transport,
		Timeout:   service.Timeout(),
	}
	p.httpClients[serviceName] = client
	logger.Log.Debug("Created HTTP client", "service", serviceName, "timeout", service.Timeout())

	return client, nil
}

// GetGRPCChannel возвращает (или лениво создаёт) gRPC канал сервиса
func (p *ClientPool) GetGRPCChannel(serviceName string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.grpcConns[serviceName]; ok {
		return conn, nil
	}

	service, err := p.sutConfig.GetService(serviceName)
	if err != nil {
		return nil, err
	}
	if service.Protocol != sut.ProtocolGRPC || service.GRPC == nil {
		return nil, apperror.Newf(apperror.CodeProtocolMismatch,
			"service %q is not a gRPC service", serviceName)
	}

	var creds credentials.TransportCredentials
	if service.GRPC.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(service.Address(),
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			logging.UnaryClientInterceptor(interceptorLogger(logger.Log)),
		),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(50*1024*1024),
			grpc.MaxCallSendMsgSize(50*1024*1024),
		),
	)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodePoolError,
			"cannot create gRPC channel for "+serviceName)
	}

	p.grpcConns[serviceName] = conn
	logger.Log.Debug("Created gRPC channel", "service", serviceName, "address", service.Address())

	return conn, nil
}

// CloseAll закрывает все клиенты и каналы и очищает пул
func (p *ClientPool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, conn := range p.grpcConns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		logger.Log.Debug("Closed gRPC channel", "service", name)
	}
	p.grpcConns = make(map[string]*grpc.ClientConn)

	// У net/http клиента нет Close; сбрасываем простаивающие соединения
	p.transport.CloseIdleConnections()
	p.httpClients = make(map[string]*http.Client)

	return firstErr
}

// interceptorLogger адаптирует slog к логгеру grpc-middleware
func interceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
