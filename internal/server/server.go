package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sherifabdlnaby/semaphore"

	"tpool/internal/logger"
	"tpool/internal/worker"
)

const (
	scope          = "server"
	readBufferSize = 1024
)

var (
	reqIndex = []byte("GET / HTTP/1.1\r\n")
	reqSleep = []byte("GET /sleep HTTP/1.1\r\n")
)

// ErrAlreadyServing は Serve が 2 回呼ばれたときに返る
var ErrAlreadyServing = errors.New("server: already serving")

// Config はServerの設定
type Config struct {
	Addr        string         // 待ち受けアドレス（":0" で空きポート）
	MaxConns    int            // 同時処理中の接続数上限（0で無制限）
	ReadTimeout time.Duration  // リクエスト読み込みのタイムアウト
	SleepDelay  time.Duration  // /sleep の待ち時間
	Logger      *logger.Logger // nil なら logger.Default
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:7878",
		MaxConns:    0,
		ReadTimeout: 5 * time.Second,
		SleepDelay:  5 * time.Second,
	}
}

// Server は接続を受け付け、1 接続につき 1 ジョブをプールに投入する
type Server struct {
	config Config
	pool   *worker.Pool
	sem    *semaphore.Weighted
	log    *logger.Scoped

	mu       sync.Mutex
	listener net.Listener
	serving  bool

	accepted atomic.Uint64
	inFlight atomic.Int64
}

// New は新しいServerを作成する。プールの所有権は呼び出し側に残る
func New(config Config, pool *worker.Pool) *Server {
	log := config.Logger
	if log == nil {
		log = logger.Default
	}

	s := &Server{
		config: config,
		pool:   pool,
		log:    log.Named(scope),
	}
	if config.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(config.MaxConns))
	}
	return s
}

// Listen はアドレスをバインドする。Serve 前に呼ぶと Addr が使える
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr はバインド済みのアドレスを返す。未バインドなら nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Accepted は受け付けた接続数を返す
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// InFlight は処理中の接続数を返す
func (s *Server) InFlight() int {
	return int(s.inFlight.Load())
}

// Serve は ctx がキャンセルされるまで接続を受け付ける
// 戻った時点で新しいジョブは投入されない。処理中の接続はプールの Close で待つ
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	ln := s.listener
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()

	s.log.Info("Listening on %s", ln.Addr())

	var tempDelay time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("Shutting down listener")
				return nil
			}

			// 一時的なエラーはバックオフして再試行する
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.log.Warn("accept error: %v; retrying in %v", err, tempDelay)
			select {
			case <-time.After(tempDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		tempDelay = 0

		s.accepted.Add(1)
		s.inFlight.Add(1)
		s.pool.Execute(func() {
			defer func() {
				s.inFlight.Add(-1)
				s.release()
			}()
			s.handleConnection(conn)
		})
	}
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// handleConnection はリクエスト行の先頭だけを見て応答を返す
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		s.log.Debug("read from %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	status, body := s.route(buf[:n])
	if _, err := conn.Write([]byte(status + body)); err != nil {
		s.log.Debug("write to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) route(req []byte) (status, body string) {
	switch {
	case bytes.HasPrefix(req, reqIndex):
		return statusOK, helloPage
	case bytes.HasPrefix(req, reqSleep):
		time.Sleep(s.config.SleepDelay)
		return statusOK, helloPage
	default:
		return statusNotFound, notFoundPage
	}
}
