package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"iot-socket-server/internal/config"
	"iot-socket-server/internal/device"
)

// MessageQueue 将设备事件发布到 Redis，并为每个设备保留最近的事件
type MessageQueue struct {
	client      *redis.Client
	channel     string
	historySize int64
	log         *logrus.Logger
}

func NewMessageQueue(cfg config.RedisConfig, log *logrus.Logger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Infof("Redis连接成功: %s", cfg.Addr)

	historySize := int64(cfg.HistorySize)
	if historySize <= 0 {
		historySize = 1000
	}

	return &MessageQueue{
		client:      client,
		channel:     cfg.Channel,
		historySize: historySize,
		log:         log,
	}, nil
}

// HistoryKey 设备事件列表的键
func HistoryKey(deviceID string) string {
	return fmt.Sprintf("socket:%s:events", deviceID)
}

// Publish 发布设备事件
func (mq *MessageQueue) Publish(ctx context.Context, ev *device.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 发布到Redis Pub/Sub
	if err := mq.client.Publish(ctx, mq.channel, data).Err(); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}

	// 同时保存到List，只保留最近 historySize 条
	key := HistoryKey(ev.DeviceID)
	pipe := mq.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, mq.historySize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		mq.log.Warnf("保存事件历史失败 [%s]: %v", ev.DeviceID, err)
	}

	return nil
}

// History 返回设备最近的事件，最新的在前
func (mq *MessageQueue) History(ctx context.Context, deviceID string, limit int64) ([]device.Event, error) {
	if limit <= 0 {
		limit = mq.historySize
	}

	items, err := mq.client.LRange(ctx, HistoryKey(deviceID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取事件历史失败: %w", err)
	}

	events := make([]device.Event, 0, len(items))
	for _, item := range items {
		var ev device.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			mq.log.Warnf("跳过无法解析的事件 [%s]: %v", deviceID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close 关闭连接
func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}
