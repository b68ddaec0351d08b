package job

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// NATSConfig 描述 NATS 队列的连接参数。
type NATSConfig struct {
	URL        string
	Subject    string
	QueueGroup string
}

// NATSQueue 通过 NATS 队列组在多个实例之间分发任务。
// 核心 NATS 不持久化消息，进程重启后由 Service.ResumePending 补投。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue 连接 NATS。
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "quickpost.jobs"
	}
	group := cfg.QueueGroup
	if group == "" {
		group = "quickpost-workers"
	}
	conn, err := nats.Connect(url, nats.Name("quickpostd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish 将任务发布到主题。
func (q *NATSQueue) Publish(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.conn.Publish(q.subject, []byte(jobID)); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布任务失败")
	}
	return nil
}

// Consume 以队列组订阅主题，同组内每条消息只投递给一个实例。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, workerCount*4)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 主题失败")
	}
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					if msg == nil {
						continue
					}
					if err := handler(ctx, string(msg.Data)); err != nil && ctx.Err() == nil {
						_ = q.conn.Publish(q.subject, msg.Data)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 排空订阅后关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return err
	}
	return nil
}

var _ Queue = (*NATSQueue)(nil)
