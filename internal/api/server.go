package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"VaultGuard/internal/orchestrator"
	"VaultGuard/pkg/logger"
)

// Chat 处理一次对话请求，orchestrator.Orchestrator 满足该接口。
type Chat interface {
	Handle(ctx context.Context, req orchestrator.Request, w orchestrator.FragmentWriter) (*orchestrator.Result, error)
}

// Vault 是管理接口依赖的金库操作，vault.Service 满足该接口。
type Vault interface {
	Balance(ctx context.Context, challengeID string) (*big.Int, error)
	Expiration(ctx context.Context, challengeID string) (time.Time, error)
	Unlock(ctx context.Context, challengeID, recipient string) (common.Hash, error)
	DistributeFunds(ctx context.Context, challengeID string) (common.Hash, error)
}

// Options 描述 API 服务的依赖与参数。
type Options struct {
	Address         string
	AdminToken      string
	ShutdownTimeout time.Duration
	Chat            Chat
	// Vault 为空时金库相关接口返回 503。
	Vault Vault
	// Metrics 为空时不暴露 /metrics。
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server 负责暴露 HTTP 接口。
type Server struct {
	addr            string
	adminToken      string
	shutdownTimeout time.Duration
	chat            Chat
	vault           Vault
	metrics         http.Handler
	logger          *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	s := &Server{
		addr:            opts.Address,
		adminToken:      opts.AdminToken,
		shutdownTimeout: opts.ShutdownTimeout,
		chat:            opts.Chat,
		vault:           opts.Vault,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Routes 返回完整的路由树。
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.observe)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Route("/challenges/{challengeID}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/expiration", s.handleExpiration)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/unlock", s.handleUnlock)
				r.Post("/distribute", s.handleDistribute)
			})
		})
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
