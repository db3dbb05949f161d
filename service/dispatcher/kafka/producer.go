package kafka

import (
	"encoding/json"

	"github.com/Shopify/sarama"

	"IMProject/logger"
	"IMProject/service/router"
)

// EventProducer 投递审计事件出口：每接收人一条
// DELIVERED / RELAYED / QUEUED_OFFLINE，给下游分析消费。
// 异步生产、fire-and-forget，失败只记日志，不影响投递路径。
type EventProducer struct {
	prod  sarama.AsyncProducer
	topic string
}

func NewEventProducer(brokers []string, topic string) (*EventProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Partitioner = sarama.NewHashPartitioner // 同一接收人进同一分区

	p, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	ep := &EventProducer{prod: p, topic: topic}
	go func() {
		for err := range p.Errors() {
			logger.Warnf("[kafka] delivery event error: %v", err)
		}
	}()
	return ep, nil
}

// Emit 满足 router.Events。
func (p *EventProducer) Emit(evt router.DeliveryEvent) {
	b, err := json.Marshal(evt)
	if err != nil {
		logger.Errorf("[kafka] marshal event: %v", err)
		return
	}
	p.prod.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.RecipientID),
		Value: sarama.ByteEncoder(b),
	}
}

func (p *EventProducer) Close() error {
	return p.prod.Close()
}
