package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/transport/rpc"
	"github.com/cocaine/cocaine-framework-go/internal/transport/zmq"
	"github.com/sirupsen/logrus"
)

// Backend 一个服务的传输连接
type Backend interface {
	Send(ctx context.Context, app, handle string, payload []byte, policy dealer.Policy) (dealer.ChannelHandle, error)
	Close() error
}

// BackendFactory 按服务配置创建 Backend
type BackendFactory func(svc config.ServiceConfig, transport config.TransportConfig) (Backend, error)

// Dealer 按配置把服务别名路由到各自的传输连接，实现 dealer.Client
type Dealer struct {
	cfg       *config.Config
	factories map[string]BackendFactory

	mu       sync.RWMutex
	backends map[string]Backend // alias -> backend
	closed   bool
}

var _ dealer.Client = (*Dealer)(nil)

// Option 配置 Dealer
type Option func(*Dealer)

// WithBackendFactory 替换某种传输的 Backend 创建方式
func WithBackendFactory(transport string, f BackendFactory) Option {
	return func(d *Dealer) { d.factories[transport] = f }
}

func defaultFactories() map[string]BackendFactory {
	return map[string]BackendFactory{
		config.TransportZMQ: func(svc config.ServiceConfig, t config.TransportConfig) (Backend, error) {
			return zmq.NewBackend(svc.Endpoints, t.ZMQ)
		},
		config.TransportGRPC: func(svc config.ServiceConfig, t config.TransportConfig) (Backend, error) {
			return rpc.NewBackend(svc.Endpoints, t.GRPC)
		},
	}
}

// New 从配置文件路径或内联 YAML 创建 Dealer
// 任何配置或连接失败都归类为 dealer.ErrConfiguration
func New(source string, opts ...Option) (*Dealer, error) {
	cfg, err := config.LoadConfig(source)
	if err != nil {
		return nil, &dealer.Error{Kind: dealer.ErrConfiguration, Op: "create client", Err: err}
	}
	return NewFromConfig(cfg, opts...)
}

// NewFromConfig 使用已加载的配置创建 Dealer，并为每个服务建立连接
func NewFromConfig(cfg *config.Config, opts ...Option) (*Dealer, error) {
	d := &Dealer{
		cfg:       cfg,
		factories: defaultFactories(),
		backends:  make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, alias := range d.Services() {
		svc := cfg.Services[alias]
		factory, ok := d.factories[svc.Transport]
		if !ok {
			d.Close()
			return nil, &dealer.Error{Kind: dealer.ErrConfiguration, Op: "create client",
				Err: fmt.Errorf("service %s: unsupported transport %q", alias, svc.Transport)}
		}
		b, err := factory(svc, cfg.Transport)
		if err != nil {
			d.Close()
			return nil, &dealer.Error{Kind: dealer.ErrConfiguration, Op: "create client",
				Err: fmt.Errorf("service %s: %w", alias, err)}
		}
		d.backends[alias] = b
		logrus.Infof("Service %s -> app %s via %s %v", alias, svc.App, svc.Transport, svc.Endpoints)
	}
	return d, nil
}

// Config 返回客户端配置
func (d *Dealer) Config() *config.Config { return d.cfg }

// Services 返回已配置的服务别名，按名称排序
func (d *Dealer) Services() []string {
	names := make([]string, 0, len(d.cfg.Services))
	for alias := range d.cfg.Services {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// ResolvePolicy 返回服务的默认投递策略
func (d *Dealer) ResolvePolicy(service string) (dealer.Policy, error) {
	pc, ok := d.cfg.PolicyFor(service)
	if !ok {
		return dealer.Policy{}, dealer.NewClientError(dealer.CodeLocation, "service %q is not configured", service)
	}
	p := dealer.Policy{
		Deadline: pc.Deadline(),
		Timeout:  pc.Timeout(),
	}
	if pc.Urgent != nil {
		p.Urgent = *pc.Urgent
	}
	if pc.MaxRetries != nil {
		p.MaxRetries = *pc.MaxRetries
	}
	return p, nil
}

// Send 将 payload 发送到 dest 所在服务的应用
func (d *Dealer) Send(ctx context.Context, payload []byte, dest dealer.Destination, policy dealer.Policy) (dealer.ChannelHandle, error) {
	if dest.Handle == "" {
		return nil, dealer.NewClientError(dealer.CodeRequest, "empty handle for service %q", dest.Service)
	}

	d.mu.RLock()
	closed := d.closed
	b, ok := d.backends[dest.Service]
	d.mu.RUnlock()

	if closed {
		return nil, errors.New("dealer client is closed")
	}
	if !ok {
		return nil, dealer.NewClientError(dealer.CodeLocation, "service %q is not configured", dest.Service)
	}
	svc, _ := d.cfg.Service(dest.Service)
	return b.Send(ctx, svc.App, dest.Handle, payload, policy)
}

// Close 关闭所有连接，可重复调用
func (d *Dealer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	backends := d.backends
	d.backends = make(map[string]Backend)
	d.mu.Unlock()

	var errs []error
	for alias, b := range backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", alias, err))
		}
	}
	return errors.Join(errs...)
}
