package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Dispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// Webhook 回包不等 Kafka：Enqueue 只入队，broker 短暂阻塞靠队列吸收，
// 队列满时按 ctx 超时降级（丢弃并由 webhook 侧记录），避免内存无限增长。
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan ResponseEvent

	// sem 限制并发的 SendMessage 数量。
	sem *Semaphore

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, sem *Semaphore, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan ResponseEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// Enqueue 把事件放入本地队列；队列满时等待直到 ctx 超时。
func (d *Dispatcher) Enqueue(ctx context.Context, evt ResponseEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt ResponseEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等待（不会影响 webhook 主链路）
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event entity=%s sender=%s worker=%d err=%v",
				evt.PartitionKey(), evt.Record.SenderID, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt ResponseEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 同一实体固定分区，消费侧按到达顺序追加
		Key:   sarama.StringEncoder(evt.PartitionKey()),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
