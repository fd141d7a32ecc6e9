package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter kafka.Writer的写入部分
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer     MessageWriter
	instanceID string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewProducer(ctx context.Context, cfg config.KafkaConfig, instanceID string, m *metrics.Metrics, logger *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("未配置Kafka broker")
	}

	// 获取分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		return nil, errors.Wrap(err, "连接Kafka失败")
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, "读取分区信息失败")
	}
	topicPartitions := 0
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			topicPartitions++
		}
	}
	logger.Info("生产者检测到Kafka主题分区", zap.String("topic", cfg.Topic), zap.Int("partitions", topicPartitions))

	// 同一路径的事件进入同一分区，保持顺序
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	return NewProducerWithWriter(writer, instanceID, m, logger), nil
}

func NewProducerWithWriter(w MessageWriter, instanceID string, m *metrics.Metrics, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{writer: w, instanceID: instanceID, metrics: m, logger: logger}
}

// EventKey 事件的分区键
func EventKey(locale, path string) []byte {
	return []byte(locale + "\x00" + path)
}

// SendVoteEvent 发送投票事件，未设置ID与实例时自动补全
func (p *Producer) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.InstanceID == "" {
		event.InstanceID = p.instanceID
	}
	if event.VotedAt.IsZero() {
		event.VotedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.EventPublished(false)
		return errors.Wrap(err, "序列化投票事件失败")
	}

	msg := kafka.Message{
		Key:   EventKey(event.Locale, event.Path),
		Value: data,
		Time:  event.VotedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.EventPublished(false)
		return errors.Wrap(err, "发送投票事件失败")
	}

	p.metrics.EventPublished(true)
	p.logger.Debug("已发送投票事件",
		zap.String("id", event.ID),
		zap.String("locale", event.Locale),
		zap.String("path", event.Path))
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
