package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"byok-api/internal/api"
	"byok-api/internal/config"
	"byok-api/internal/database"
	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
	"byok-api/internal/provider"

	"github.com/joho/godotenv"

	_ "time/tzdata" // 嵌入时区数据库，解决 Windows 下时区加载失败问题
)

// Version 版本号，通过 ldflags 注入
var Version = "dev"

// closer 关闭存储时需要的资源
type closer func()

func main() {
	// 解析命令行参数
	portFlag := flag.Int("port", 0, "服务器监听端口（优先级最高，0 表示使用配置文件或默认值 62311）")
	flag.IntVar(portFlag, "p", 0, "服务器监听端口（-port 的简写）")
	configFlag := flag.String("config", "", "配置文件路径（不指定则在当前目录查找 config.yaml / config.json）")
	envFlag := flag.String("env-file", ".env", "环境变量文件，配置文件中的 ${VAR} 从这里读取")
	dataDirFlag := flag.String("data-dir", "", "数据目录路径（存放数据库、日志和摘要缓存，不指定则使用当前工作目录）")
	flag.Parse()

	// 设置时区为北京时间（UTC+8）
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		log.Printf("警告: 加载时区失败，使用 UTC+8: %v", err)
		loc = time.FixedZone("CST", 8*3600)
	}
	time.Local = loc

	if dataDir := *dataDirFlag; dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Fatalf("创建数据目录失败: %v", err)
		}
		// 切换到数据目录，使数据库和日志文件都存放在此目录
		if err := os.Chdir(dataDir); err != nil {
			log.Fatalf("切换到数据目录失败: %v", err)
		}
	}

	// .env 不存在时忽略，已有的环境变量优先
	if err := godotenv.Load(*envFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("警告: 读取 %s 失败: %v", *envFlag, err)
	}

	// 加载配置（优先 YAML，兼容 JSON，无配置文件则使用默认值）
	configPath := *configFlag
	if configPath == "" {
		configPath = config.ResolvePath()
	}
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadPath(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Printf("警告: 加载配置文件失败，使用默认配置: %v", err)
		cfg = config.Load()
	}
	if *portFlag > 0 && *portFlag <= 65535 {
		cfg.Server.Port = *portFlag
	}

	// 初始化日志系统
	if err := logger.Init(cfg.LogDir); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	logger.SetDebugEnabled(cfg.Debug)
	logger.Info("=== BYOK 上下文压缩服务 %s 启动中 ===", Version)
	if configPath != "" {
		logger.Info("配置文件: %s", configPath)
	}
	logger.Info("系统时区: %s", time.Local.String())
	logger.Info("摘要上游: %d 个, 历史摘要: %v, 缓存存储: %s",
		len(cfg.Providers), cfg.HistorySummary.Enabled, cfg.HistorySummaryStorage.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 运行时设置依赖 gorm（sqlite/mysql），postgres 只用于摘要缓存
	var db *database.DB
	if cfg.Database.Type != config.DatabaseTypePostgres {
		db, err = database.New(cfg)
		if err != nil {
			logger.Error("初始化数据库失败: %v", err)
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer db.Close()
		logger.Info("数据库初始化成功")
	} else {
		logger.Warn("数据库类型为 postgres，运行时设置接口不可用")
	}

	storage, closeStorage, err := openStorage(ctx, cfg, db)
	if err != nil {
		logger.Error("初始化摘要缓存存储失败: %v", err)
		log.Fatalf("摘要缓存存储初始化失败: %v", err)
	}
	defer closeStorage()

	dispatcher := provider.NewDispatcher(cfg)
	engine := historysummary.NewEngine(
		historysummary.NewCache(storage, cfg.HistorySummaryStorage.MaxEntriesPerConversation),
		dispatcher,
	)
	server := api.NewServer(cfg, db, engine, Version)
	defer server.Close()

	// 配置热更新：上游列表、摘要参数与日志级别即时生效，监听地址和存储需重启
	if configPath != "" {
		err := config.Watch(ctx, configPath, func(newCfg *config.Config) {
			newCfg.Server.Port = cfg.Server.Port
			server.UpdateConfig(newCfg)
			dispatcher.UpdateConfig(newCfg)
			logger.SetDebugEnabled(newCfg.Debug)
			logger.Info("配置已重新加载 - 上游: %d 个, 历史摘要: %v", len(newCfg.Providers), newCfg.HistorySummary.Enabled)
		}, func(err error) {
			logger.Warn("重新加载配置失败，保留当前配置: %v", err)
		})
		if err != nil {
			logger.Warn("监听配置文件失败，热更新不可用: %v", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second, // 摘要模型调用可能较慢
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器监听中 - 地址: http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务器启动失败: %v", err)
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	server.StartCaches(ctx)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到关闭信号,正在优雅关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器强制关闭: %v", err)
	}
	engine.Wait()
	cancel()

	logger.Info("=== BYOK 上下文压缩服务 %s 已停止 ===", Version)
	logger.Close()
	log.Println("服务器已退出")
}

// openStorage 按配置创建摘要缓存存储
func openStorage(ctx context.Context, cfg *config.Config, db *database.DB) (historysummary.Storage, closer, error) {
	sc := cfg.HistorySummaryStorage
	switch sc.Type {
	case config.StorageTypeFile:
		ttl := time.Duration(cfg.HistorySummary.CacheTTLMs) * time.Millisecond
		fs, err := historysummary.NewFileStorage(sc.Dir, ttl)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("[摘要缓存] 使用文件存储: %s", sc.Dir)
		return fs, fs.Close, nil

	case config.StorageTypeDatabase:
		if cfg.Database.Type == config.DatabaseTypePostgres {
			pg, err := database.NewPostgresSummaryStore(ctx, cfg.Database.Postgres.DSN)
			if err != nil {
				return nil, nil, err
			}
			return pg, pg.Close, nil
		}
		if db == nil {
			return nil, nil, errors.New("数据库未初始化")
		}
		logger.Info("[摘要缓存] 使用数据库存储: %s", cfg.Database.Type)
		return database.NewSummaryCacheStore(db), func() {}, nil

	default:
		logger.Info("[摘要缓存] 使用内存存储，重启后缓存失效")
		return historysummary.NewMemoryStorage(), func() {}, nil
	}
}
