package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writerBufferSize = 64

// connWriter 单连接写入器：所有写操作经缓冲通道串行化，
// 缓冲满时丢弃消息而不是阻塞业务侧。
type connWriter struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	mu      sync.Mutex
	msgChan chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func newConnWriter(conn *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *connWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &connWriter{
		conn:         conn,
		logger:       logger,
		writeTimeout: writeTimeout,
		msgChan:      make(chan []byte, writerBufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

func (w *connWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.msgChan:
			w.mu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			err := w.conn.WriteMessage(websocket.TextMessage, msg)
			w.mu.Unlock()

			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					w.logger.Debug("连接已关闭，停止写入", zap.Error(err))
				} else {
					w.logger.Error("写入信令消息失败", zap.Error(err))
				}
				w.cancel()
				return
			}
		}
	}
}

// send 异步发送，缓冲满时丢弃并告警
func (w *connWriter) send(msg []byte) error {
	select {
	case <-w.ctx.Done():
		return w.ctx.Err()
	case w.msgChan <- msg:
		return nil
	default:
		w.logger.Warn("信令发送缓冲已满，丢弃消息")
		return nil
	}
}

// ping 心跳探测直接走连接，避开业务缓冲
func (w *connWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

// close 停止写循环。msgChan 从不 close：业务侧可能仍持有会话引用
// 并发调用 send，关闭通道会让那条 send 直接 panic；
// 取消上下文即可让 writeLoop 退出，残留消息随通道一起被回收。
func (w *connWriter) close() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
}
