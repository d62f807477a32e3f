package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"tpool/internal/logger"
	"tpool/internal/metrics"
	"tpool/internal/worker"
)

const scope = "client"

var (
	// ErrNoTarget は接続先が指定されていないときに返る
	ErrNoTarget = errors.New("client: target address is required")
	// ErrUnexpectedStatus は 200 以外の応答を受け取ったときに返る
	ErrUnexpectedStatus = errors.New("client: unexpected status")
)

var statusOK = []byte("HTTP/1.1 200")

// Config はClientの設定
type Config struct {
	Target      string        // 接続先（host:port）
	Path        string        // リクエストパス
	Concurrency int           // 同時接続数 = 内部プールのワーカー数
	Requests    int           // 送信するリクエスト数
	Timeout     time.Duration // 1 リクエストあたりのタイムアウト
	Logger      *logger.Logger
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Target:      "127.0.0.1:7878",
		Path:        "/",
		Concurrency: 4,
		Requests:    100,
		Timeout:     10 * time.Second,
	}
}

// Client は負荷生成器
type Client struct {
	config  Config
	metrics *metrics.Metrics
	log     *logger.Scoped
	dialer  net.Dialer
}

// New は新しいClientを作成する。0 以下の値はデフォルトで補う
func New(config Config) *Client {
	def := DefaultConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Requests < 0 {
		config.Requests = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	if config.Logger == nil {
		config.Logger = logger.Default
	}

	return &Client{
		config:  config,
		metrics: metrics.New(),
		log:     config.Logger.Named(scope),
	}
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Run は Requests 件のリクエストを Concurrency 並列で送り、完了を待つ
// ctx がキャンセルされると未送信のリクエストは投入されず、キュー上のものは記録せずに捨てる
func (c *Client) Run(ctx context.Context) (*metrics.Snapshot, error) {
	if c.config.Target == "" {
		return nil, ErrNoTarget
	}

	pool := worker.NewPoolWithConfig(worker.PoolConfig{
		Size:   c.config.Concurrency,
		Logger: c.config.Logger,
	})

	c.log.Info("Sending %d requests to %s%s (concurrency: %d)",
		c.config.Requests, c.config.Target, c.config.Path, c.config.Concurrency)

	for range c.config.Requests {
		if ctx.Err() != nil {
			break
		}
		pool.Execute(func() {
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			if err := c.do(ctx); err != nil {
				c.metrics.RecordFailure(time.Since(start))
				c.log.Debug("request failed: %v", err)
				return
			}
			c.metrics.RecordSuccess(time.Since(start))
		})
	}
	pool.Close()

	snapshot := c.metrics.Snapshot()
	if err := ctx.Err(); err != nil {
		return &snapshot, fmt.Errorf("load run interrupted: %w", err)
	}
	return &snapshot, nil
}

// do は 1 回の接続・送信・受信を行う
func (c *Client) do(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.config.Target, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", c.config.Path, c.config.Target)
	if _, err := io.WriteString(conn, req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !bytes.HasPrefix(resp, statusOK) {
		line, _, _ := bytes.Cut(resp, []byte("\r\n"))
		return fmt.Errorf("%w: %q", ErrUnexpectedStatus, line)
	}
	return nil
}
