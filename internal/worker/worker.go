package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tpool/internal/events"
	"tpool/internal/logger"
)

var (
	// ErrInvalidSize はプールサイズが 1 未満のときの panic 値
	ErrInvalidSize = errors.New("worker: pool size must be at least 1")
	// ErrPoolClosed は Close 開始後に Execute されたときの panic 値
	ErrPoolClosed = errors.New("worker: execute on closed pool")
	// ErrNilJob は nil ジョブが渡されたときの panic 値
	ErrNilJob = errors.New("worker: nil job")
)

// Job はワーカーが実行するジョブを表す
type Job func()

// Observer はジョブの完了を受け取る。metrics.Metrics が実装する
type Observer interface {
	JobDone(workerID int, elapsed time.Duration, panicked bool)
}

// State はワーカーの状態
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Size     int            // ワーカー数（1以上必須）
	Logger   *logger.Logger // nil なら logger.Default
	Bus      *events.Bus    // nil ならイベントを発行しない
	Observer Observer       // nil なら通知しない
}

// Stats はプールのスナップショット
type Stats struct {
	Size      int    `json:"size"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Panicked  uint64 `json:"panicked"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
}

// WorkerInfo はワーカー 1 つの状態
type WorkerInfo struct {
	ID     int    `json:"id"`
	State  string `json:"state"`
	Joined bool   `json:"joined"`
}

// Pool は固定数のワーカーゴルーチンを管理する
type Pool struct {
	workers  []*worker
	queue    *queue
	log      *logger.Scoped
	bus      *events.Bus
	observer Observer

	closing   atomic.Bool
	closeOnce sync.Once

	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
	busy      atomic.Int64
}

// NewPool は size 個のワーカーで新しいプールを作成し、起動する
// size が 1 未満なら ErrInvalidSize で panic する
func NewPool(size int) *Pool {
	return NewPoolWithConfig(PoolConfig{Size: size})
}

// NewPoolWithConfig は設定を指定してプールを作成し、起動する
func NewPoolWithConfig(config PoolConfig) *Pool {
	if config.Size < 1 {
		panic(fmt.Errorf("%w: got %d", ErrInvalidSize, config.Size))
	}

	log := config.Logger
	if log == nil {
		log = logger.Default
	}

	p := &Pool{
		workers:  make([]*worker, config.Size),
		queue:    newQueue(),
		log:      log.Named("pool"),
		bus:      config.Bus,
		observer: config.Observer,
	}

	for id := range config.Size {
		w := &worker{
			id:   id,
			log:  log.Named(fmt.Sprintf("worker-%d", id)),
			pool: p,
			done: make(chan struct{}),
		}
		p.workers[id] = w
		go w.loop()
	}

	p.log.Info("WorkerPool started with %d workers", config.Size)
	return p
}

// Execute はジョブをキューに積む。キューは無制限なのでブロックしない
// Close 開始後の呼び出しはライフサイクルのバグなので ErrPoolClosed で panic する
func (p *Pool) Execute(job Job) {
	if job == nil {
		panic(ErrNilJob)
	}
	if p.closing.Load() {
		panic(ErrPoolClosed)
	}

	p.submitted.Add(1)
	if !p.queue.push(message{kind: msgNewJob, job: job}) {
		p.submitted.Add(^uint64(0))
		panic(ErrPoolClosed)
	}
}

// Close はワーカー数ぶんの Terminate を送り、全ワーカーを ID 順に join する
// 投入済みのジョブがすべて終わるまで戻らない。2 回目以降は何もしない
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		start := time.Now()
		p.closing.Store(true)

		p.log.Info("Sending terminate message to all %d workers", len(p.workers))
		terminate := make([]message, len(p.workers))
		for i := range terminate {
			terminate[i] = message{kind: msgTerminate}
		}
		p.queue.seal(terminate...)

		p.log.Info("Shutting down all workers")
		for _, w := range p.workers {
			p.log.Debug("Shutting down worker %d", w.id)
			<-w.done
			w.joined.Store(true)
		}
		p.queue.close()

		p.bus.Publish(events.NewPoolClosedEvent(len(p.workers), time.Since(start)))
		p.log.Info("WorkerPool stopped (%v)", time.Since(start))
	})
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueLen はキューに残っているメッセージ数を返す
func (p *Pool) QueueLen() int {
	return p.queue.len()
}

// Stats は現在の統計を返す
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      len(p.workers),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Busy:      int(p.busy.Load()),
		Queued:    p.queue.len(),
	}
}

// Workers は各ワーカーの状態を ID 順に返す
func (p *Pool) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, len(p.workers))
	for i, w := range p.workers {
		infos[i] = WorkerInfo{
			ID:     w.id,
			State:  w.State().String(),
			Joined: w.joined.Load(),
		}
	}
	return infos
}

// --------- WORKER --------- //

type worker struct {
	id     int
	log    *logger.Scoped
	pool   *Pool
	state  atomic.Int32
	done   chan struct{}
	joined atomic.Bool
}

func (w *worker) State() State {
	return State(w.state.Load())
}

// loop はキューからメッセージを取り出し続ける
func (w *worker) loop() {
	p := w.pool
	exited := false
	defer func() {
		if !exited {
			// ジョブが runtime.Goexit を呼んだ。同じ ID でループを張り直す
			w.log.Warn("job exited the worker goroutine; restarting worker")
			go w.loop()
			return
		}
		close(w.done)
	}()

	p.bus.Publish(events.NewWorkerEvent(events.EventWorkerStarted, w.id))

	for {
		msg, ok := p.queue.pop()
		if !ok {
			w.state.Store(int32(StateStopped))
			w.log.Warn("queue closed without a terminate message; stopping")
			p.bus.Publish(events.NewWorkerEvent(events.EventWorkerDisconnected, w.id))
			exited = true
			return
		}

		switch msg.kind {
		case msgNewJob:
			w.log.Debug("got a job; executing")
			w.execute(msg.job)
		case msgTerminate:
			w.state.Store(int32(StateStopped))
			w.log.Debug("was told to terminate")
			p.bus.Publish(events.NewWorkerEvent(events.EventWorkerTerminated, w.id))
			exited = true
			return
		}
	}
}

// execute はジョブを 1 つ実行する。panic はここで止め、ワーカーは生かす
func (w *worker) execute(job Job) {
	p := w.pool
	w.state.Store(int32(StateRunning))
	p.busy.Add(1)
	start := time.Now()
	returned := false

	defer func() {
		elapsed := time.Since(start)
		r := recover()
		failed := r != nil || !returned
		if failed {
			if r == nil {
				r = "runtime.Goexit called"
			}
			p.panicked.Add(1)
			// スタック取得は出力されるときだけ
			if w.log.Enabled(logger.LevelError) {
				w.log.Error("job panicked after %v: %v\n%s", elapsed, r, debug.Stack())
			}
			p.bus.Publish(events.NewJobPanickedEvent(w.id, r, elapsed))
		} else {
			p.completed.Add(1)
		}
		if p.observer != nil {
			p.observer.JobDone(w.id, elapsed, failed)
		}
		p.busy.Add(-1)
		w.state.Store(int32(StateIdle))
	}()

	job()
	returned = true
}
