package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"VaultGuard/internal/accounting"
	"VaultGuard/internal/agent"
	"VaultGuard/internal/api"
	"VaultGuard/internal/challenge"
	"VaultGuard/internal/config"
	"VaultGuard/internal/llm"
	"VaultGuard/internal/llm/openai"
	"VaultGuard/internal/notify"
	"VaultGuard/internal/observability/metrics"
	"VaultGuard/internal/orchestrator"
	"VaultGuard/internal/prompt"
	"VaultGuard/internal/storage/sqlstore"
	"VaultGuard/internal/vault"
	"VaultGuard/internal/web3/contracts"
	"VaultGuard/internal/web3/provider"
	"VaultGuard/pkg/logger"
)

// main 是 VaultGuard 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("vaultguardd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略，环境变量仍然生效。
	_ = godotenv.Load()

	configPath := os.Getenv("VAULTGUARD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "vaultguard.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("vaultguardd")

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Storage.SeedFile != "" {
		seed, err := challenge.LoadSeed(cfg.Storage.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, store); err != nil {
			return err
		}
		appLog.Info("已写入种子数据", slog.String("file", cfg.Storage.SeedFile))
	}

	// 链配置是可选的：未配置时余额工具与金库管理接口不可用。
	var vaultService *vault.Service
	if cfg.Web3.ChainConfig != "" || cfg.Web3.RPCURL != "" {
		registry, err := provider.NewRegistry(ctx, cfg.Web3, provider.DialEthereum)
		if err != nil {
			return err
		}
		defer registry.Close()

		chain, err := registry.DefaultClient()
		if err != nil {
			return err
		}
		cache := contracts.NewCache(store, chain, contracts.WithCapacity(cfg.Web3.ContractCacheSize))

		opts := []vault.Option{vault.WithTxTimeout(time.Duration(cfg.Vault.TxTimeoutSeconds) * time.Second)}
		if cfg.Vault.PrivateKey != "" {
			auth, err := vault.NewTransactor(ctx, cfg.Vault.PrivateKey, chain)
			if err != nil {
				return err
			}
			opts = append(opts, vault.WithTransactor(auth))
			appLog.Info("金库签名账户已加载", slog.String("address", auth.From.Hex()))
		} else {
			appLog.Warn("未配置金库所有者私钥，解锁与分配接口不可用", slog.String("env", cfg.Vault.PrivateKeyEnv))
		}
		vaultService = vault.NewService(cache, chain, store, opts...)

		watcher := vault.NewWatcher(vaultService, store,
			time.Duration(cfg.Vault.ExpirationCheckSeconds)*time.Second,
			vault.WithAutoDistribute(cfg.Vault.AutoDistribute),
		)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	} else {
		appLog.Warn("未配置区块链节点，金库相关功能已禁用")
	}

	llmClient, err := createLLMClient(cfg.LLM)
	if err != nil {
		return err
	}

	prompts := prompt.NewFileSource(cfg.Agent.PromptDir)
	prices := llm.NewPriceTable(pricesFromConfig(cfg.LLM.Pricing))
	llmTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second

	var balances agent.BalanceReader
	if vaultService != nil {
		balances = vaultService
	}
	primary := agent.NewPrimary(llmClient, prompts, balances,
		agent.WithModel(cfg.Agent.PrimaryModel),
		agent.WithTemperature(*cfg.Agent.PrimaryTemperature),
		agent.WithMaxToolRounds(cfg.Agent.MaxToolRounds),
		agent.WithRewardMessage(cfg.Agent.RewardMessage),
		agent.WithPriceTable(prices),
		agent.WithLLMTimeout(llmTimeout),
	)
	secondary := agent.NewSecondary(llmClient, prompts,
		agent.WithModel(cfg.Agent.SecondaryModel),
		agent.WithTemperature(*cfg.Agent.SecondaryTemperature),
		agent.WithRewardMessage(cfg.Agent.RewardMessage),
		agent.WithPriceTable(prices),
		agent.WithLLMTimeout(llmTimeout),
	)

	notifier, closeNotify, err := startNotifier(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	defer closeNotify()

	orchOpts := []orchestrator.Option{orchestrator.WithNotifyTimeout(time.Duration(cfg.Notify.TimeoutSeconds) * time.Second)}
	if notifier != nil {
		orchOpts = append(orchOpts, orchestrator.WithNotifier(notifier))
	}
	ledger := accounting.NewLedger(store, store, store)
	orch := orchestrator.New(ledger, vault.NewResolver(store, store), primary, secondary, orchOpts...)

	apiOpts := api.Options{
		Address:         cfg.Server.Address,
		AdminToken:      cfg.Server.AdminToken,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		Chat:            orch,
		Metrics:         metrics.Handler(),
	}
	if vaultService != nil {
		apiOpts.Vault = vaultService
	}
	return api.NewServer(apiOpts).Start(ctx)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (challenge.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return challenge.NewMemoryStore(), nil
	case sqlstore.DriverMySQL, sqlstore.DriverSQLite:
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

func createLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("不支持的大模型提供方: %s", cfg.Provider)
	}
}

func pricesFromConfig(in map[string]config.Price) map[string]llm.Price {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]llm.Price, len(in))
	for model, p := range in {
		out[model] = llm.Price{Prompt: p.Prompt, Completion: p.Completion}
	}
	return out
}

// startNotifier 组装 Webhook 通知器。配置了队列时，破解事件先入队，
// 再由后台协程投递到 Webhook。
func startNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Notifier, func(), error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	hooks := make([]notify.Notifier, 0, len(cfg.Webhooks))
	for _, url := range cfg.Webhooks {
		if strings.TrimSpace(url) != "" {
			hooks = append(hooks, notify.NewWebhook(url, timeout))
		}
	}
	if len(hooks) == 0 {
		return nil, func() {}, nil
	}
	fanout := notify.NewFanout(hooks...)

	queue, err := notify.OpenQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, nil, err
	}
	if queue == nil {
		return fanout, func() {}, nil
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := notify.NewWorker(queue, fanout, cfg.Queue.Workers, timeout).Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("通知队列消费退出", slog.Any("error", err))
		}
	}()
	closeFn := func() {
		_ = queue.Close()
		select {
		case <-done:
		case <-time.After(timeout):
		}
		cancel()
		<-done
	}
	return notify.NewQueued(queue), closeFn, nil
}
