package worker

import "sync"

// msgKind はキューを流れるメッセージの種類
type msgKind uint8

const (
	msgNewJob msgKind = iota
	msgTerminate
)

func (k msgKind) String() string {
	switch k {
	case msgNewJob:
		return "NewJob"
	case msgTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// message はワーカーへの指示。job は msgNewJob のときのみ有効
type message struct {
	kind msgKind
	job  Job
}

// queue は全ワーカーが共有する無制限の FIFO キュー
//
// 受信は mu で直列化される。ジョブの実行はロック外で行われる。
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []message
	sealed bool // seal 以降の push は拒否される
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push はメッセージを末尾に追加する。seal/close 済みなら false
func (q *queue) push(msg message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.closed {
		return false
	}
	q.buf = append(q.buf, msg)
	q.cond.Signal()
	return true
}

// seal は tail を追加し、以降の push を受け付けなくする
// 追加と封印は同じロック内で行うので、tail の後ろに割り込むメッセージはない
func (q *queue) seal(tail ...message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.closed {
		return false
	}
	q.buf = append(q.buf, tail...)
	q.sealed = true
	q.cond.Broadcast()
	return true
}

// pop は先頭のメッセージを取り出す。空なら到着までブロックする
// close 後は残りを返し切ってから ok=false を返す
func (q *queue) pop() (msg message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return message{}, false
	}

	msg = q.buf[0]
	q.buf[0] = message{}
	q.buf = q.buf[1:]
	return msg, true
}

// close は受信待ちの全ワーカーを起こす
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
