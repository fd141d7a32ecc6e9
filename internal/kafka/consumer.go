package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader kafka.Reader的读取部分
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Invalidator 收到其它实例的投票后使本地裁决缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, locale, path string) error
}

type Consumer struct {
	readers     []MessageReader
	invalidator Invalidator
	instanceID  string
	metrics     *metrics.Metrics
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 为主题的每个分区创建一个reader
// 每个实例都需要看到全部事件，因此不使用消费者组，从最新位置开始读
func NewConsumer(ctx context.Context, cfg config.KafkaConfig, instanceID string, inv Invalidator, m *metrics.Metrics, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("未配置Kafka broker")
	}

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		return nil, errors.Wrap(err, "连接Kafka失败")
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, "读取分区信息失败")
	}

	var readers []MessageReader
	for _, p := range partitions {
		if p.Topic != cfg.Topic {
			continue
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     cfg.Topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6, // 10MB
		})
		if err := reader.SetOffset(kafka.LastOffset); err != nil {
			reader.Close()
			return nil, errors.Wrapf(err, "设置分区 %d 偏移量失败", p.ID)
		}
		readers = append(readers, reader)
	}
	if len(readers) == 0 {
		return nil, errors.Errorf("Kafka主题 %s 没有分区", cfg.Topic)
	}
	logger.Info("检测到Kafka主题分区", zap.String("topic", cfg.Topic), zap.Int("partitions", len(readers)))

	return NewConsumerWithReaders(readers, instanceID, inv, m, logger), nil
}

func NewConsumerWithReaders(readers []MessageReader, instanceID string, inv Invalidator, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		readers:     readers,
		invalidator: inv,
		instanceID:  instanceID,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// StartConsuming 每个reader一个goroutine
func (c *Consumer) StartConsuming() {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r MessageReader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r)
		}(i, reader)
	}
	c.logger.Info("已启动Kafka消费者", zap.Int("workers", len(c.readers)))
}

func (c *Consumer) consumeMessages(workerID int, reader MessageReader) {
	logger := c.logger.With(zap.Int("worker", workerID))
	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			logger.Warn("读取消息失败", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
				return
			}
			continue
		}
		if err := c.HandleMessage(c.ctx, m); err != nil {
			logger.Warn("处理消息失败", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// HandleMessage 处理一条投票事件，本实例发出的事件直接忽略
func (c *Consumer) HandleMessage(ctx context.Context, m kafka.Message) error {
	var event model.VoteEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return errors.Wrap(err, "解析投票事件失败")
	}
	if event.InstanceID == c.instanceID {
		return nil
	}

	c.metrics.EventConsumed()
	if err := c.invalidator.Invalidate(ctx, event.Locale, event.Path); err != nil {
		return errors.Wrapf(err, "使 %s %s 的裁决缓存失效失败", event.Locale, event.Path)
	}
	return nil
}

// Stop 停止消费并关闭所有reader
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var firstErr error
	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			c.logger.Warn("关闭消费者失败", zap.Int("worker", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.logger.Info("Kafka消费者已停止")
	return firstErr
}
