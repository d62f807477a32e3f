// Package main is the entry point for tpool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"tpool/internal/api"
	"tpool/internal/client"
	"tpool/internal/config"
	"tpool/internal/events"
	"tpool/internal/logger"
	"tpool/internal/metrics"
	"tpool/internal/server"
	"tpool/internal/worker"
)

var (
	version = "dev"
)

// reportInterval は稼働中のスループットを出力する間隔
const reportInterval = 10 * time.Second

func main() {
	// フラグ定義
	var (
		configFile  = flag.String("config", "", "設定ファイルパス (YAML/JSON)")
		addr        = flag.String("addr", "", "待ち受けアドレス (例: 127.0.0.1:7878)")
		workers     = flag.Int("workers", 0, "ワーカー数")
		maxConns    = flag.Int("max-conns", -1, "同時処理中の接続数上限 (0で無制限)")
		adminAddr   = flag.String("admin", "", "管理APIアドレス (例: 127.0.0.1:9090)")
		noAdmin     = flag.Bool("no-admin", false, "管理APIを無効化")
		logLevel    = flag.String("log-level", "", "ログレベル (debug, info, warn, error)")
		loadTarget  = flag.String("load", "", "負荷生成モード: 接続先アドレス")
		loadPath    = flag.String("path", "/", "負荷生成モード: リクエストパス")
		requests    = flag.Int("requests", 100, "負荷生成モード: リクエスト数")
		concurrency = flag.Int("concurrency", 4, "負荷生成モード: 同時接続数")
		showVersion = flag.Bool("version", false, "バージョンを表示")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `tpool - Fixed-size worker pool server

Usage:
  tpool [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # デフォルト設定でサーバーを起動
  tpool

  # 設定ファイルから起動
  tpool --config tpool.yaml

  # フラグでカスタマイズ
  tpool --addr :7878 --workers 8 --admin :9090

  # 起動中のサーバーに負荷をかける
  tpool --load 127.0.0.1:7878 --requests 1000 --concurrency 16
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("tpool version %s\n", version)
		return
	}

	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			logger.Error("", "設定エラー: %v", err)
			os.Exit(1)
		}
		logger.Default.SetLevel(level)
	}

	// 負荷生成モード
	if *loadTarget != "" {
		if err := runLoad(*loadTarget, *loadPath, *requests, *concurrency); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	rt, err := buildRuntime(*configFile, *addr, *workers, *maxConns, *adminAddr, *noAdmin)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	if *logLevel == "" {
		logger.Default.SetLevel(rt.LogLevel)
	}

	if err := runServer(rt); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildRuntime は設定ファイルとフラグから実行時設定を構築する
func buildRuntime(configFile, addr string, workers, maxConns int, adminAddr string, noAdmin bool) (config.Runtime, error) {
	rt := config.Default()

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return rt, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		rt = loaded
	}

	// フラグでオーバーライド
	if addr != "" {
		rt.Server.Addr = addr
	}
	if workers > 0 {
		rt.PoolSize = workers
	}
	if maxConns >= 0 {
		rt.Server.MaxConns = maxConns
	}
	if adminAddr != "" {
		rt.AdminAddr = adminAddr
		rt.AdminEnabled = true
	}
	if noAdmin {
		rt.AdminEnabled = false
	}

	return rt, nil
}

// signalContext は SIGINT/SIGTERM でキャンセルされるコンテキストを返す
func signalContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n" + msg)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// runServer は接続サーバーと管理APIを起動し、シグナルで停止する
func runServer(rt config.Runtime) error {
	fmt.Println("tpool - Fixed-size worker pool server")
	fmt.Println("=====================================")
	fmt.Printf("Listen:  %s\n", rt.Server.Addr)
	fmt.Printf("Workers: %d, MaxConns: %d\n", rt.PoolSize, rt.Server.MaxConns)
	if rt.AdminEnabled {
		fmt.Printf("Admin:   http://%s\n", rt.AdminAddr)
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, cancel := signalContext("中断シグナルを受信、サーバーを終了中...")
	defer cancel()

	bus := events.NewBus()
	defer bus.Close()

	m := metrics.New()
	pool := worker.NewPoolWithConfig(worker.PoolConfig{
		Size:     rt.PoolSize,
		Bus:      bus,
		Observer: m,
	})
	// プールは受付ループより長生きする。Serve が戻ってから Close する
	defer pool.Close()

	srv := server.New(rt.Server, pool)
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if rt.AdminEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewCollector("tpool", pool, m),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		admin := api.NewServer(rt.AdminAddr, pool, bus, reg)
		g.Go(func() error {
			return admin.Start(gctx)
		})
	}

	g.Go(func() error {
		reportLoop(gctx, m, pool)
		return nil
	})

	err := g.Wait()
	fmt.Println("Shutting down.")
	if n := bus.Dropped(); n > 0 {
		logger.Warn("events", "%d event deliveries dropped by slow subscribers", n)
	}
	return err
}

// reportLoop は reportInterval ごとに直近のスループットを出力し、計測ウィンドウを切り替える
func reportLoop(ctx context.Context, m *metrics.Metrics, pool *worker.Pool) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rate := m.Rate(); rate > 0 {
				stats := pool.Stats()
				logger.Info("pool", "rate: %.2f jobs/s, p99: %v, busy: %d/%d, queued: %d, panicked: %d",
					rate, m.P99Latency(), stats.Busy, stats.Size, stats.Queued, stats.Panicked)
			}
			m.Reset()
		}
	}
}

// runLoad は負荷生成を実行し、レポートを出力する
func runLoad(target, path string, requests, concurrency int) error {
	ctx, cancel := signalContext("中断シグナルを受信、負荷生成を終了中...")
	defer cancel()

	cfg := client.DefaultConfig()
	cfg.Target = target
	cfg.Path = path
	cfg.Requests = requests
	cfg.Concurrency = concurrency
	cfg.Timeout = 30 * time.Second

	fmt.Println("tpool - Load generator")
	fmt.Println("======================")
	fmt.Printf("Target: %s%s\n", target, path)
	fmt.Printf("Requests: %d, Concurrency: %d\n", requests, concurrency)
	fmt.Println()

	snap, err := client.New(cfg).Run(ctx)
	if snap != nil {
		fmt.Println(snap.Report())
	}
	return err
}
