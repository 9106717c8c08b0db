package internal

import (
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ShuttingDownKafka stops the consumer loops once set.
var ShuttingDownKafka bool

// ShutdownPutback stops the putback processor. Set it only after the
// processor channels have been drained, otherwise messages are lost.
var ShutdownPutback bool

// KafkaMessages is a counter for the number of messages received, this is used for stats only
var KafkaMessages = float64(0)

// KafkaCommits is a counter for the number of offsets stored, this is used for stats only
var KafkaCommits = float64(0)

// KafkaPutBacks is a counter for the number of messages returned to kafka, this is used for stats only
var KafkaPutBacks = float64(0)

// KafkaConfirmed is a counter for the number of messages confirmed by the broker, this is used for stats only
var KafkaConfirmed = float64(0)

var LastKafkaMessageReceived = time.Now()

type KafkaKey struct {
	Putback *Putback `json:"Putback,omitempty"`
}

type Putback struct {
	FirstTsMS int64  `json:"FirstTsMs"`
	LastTsMS  int64  `json:"LastTsMs"`
	Amount    int64  `json:"Amount"`
	Reason    string `json:"Reason,omitempty"`
	Error     string `json:"Error,omitempty"`
}

type PutBackChanMsg struct {
	Msg         *kafka.Message
	Reason      string
	ErrorString *string
}

// ProcessKafkaQueue subscribes the consumer to topic (a regex is allowed) and
// moves every received message into processorChannel. If the putback channel
// backs up, consumption pauses until it empties.
func ProcessKafkaQueue(
	identifier string,
	topic string,
	processorChannel chan *kafka.Message,
	kafkaConsumer *kafka.Consumer,
	putBackChannel chan PutBackChanMsg,
	shutdownFunc func()) {
	zap.S().Debugf("%s Starting Kafka consumer for topic %s", identifier, topic)
	err := kafkaConsumer.Subscribe(topic, nil)
	if err != nil {
		zap.S().Errorf("%s Failed to subscribe to topic %s: %s", identifier, topic, err)
		panic(err)
	}

	for !ShuttingDownKafka {
		if len(putBackChannel) > 100 {
			zap.S().Debugf("%s Waiting for put back channel to empty: %d", identifier, len(putBackChannel))
			time.Sleep(OneSecond)
			continue
		}

		var msg *kafka.Message
		// The timeout allows ShuttingDownKafka to be checked regularly
		msg, err = kafkaConsumer.ReadMessage(500)
		if err != nil {
			var kafkaError kafka.Error
			ok := true
			if kafkaError, ok = err.(kafka.Error); !ok {
				zap.S().Warnf("%s Failed to read kafka message: %s", identifier, err)
				time.Sleep(FiveSeconds)
				continue
			}
			if kafkaError.Code() == kafka.ErrTimedOut {
				continue
			} else if kafkaError.Code() == kafka.ErrUnknownTopicOrPart {
				// Occurs while the topics for the regex are not yet created
				zap.S().Errorf("%s Unknown topic or partition: %s", identifier, err)
				if shutdownFunc != nil {
					shutdownFunc()
				}
				return
			} else {
				zap.S().Warnf("%s Failed to read kafka message: %s", identifier, err)
				time.Sleep(FiveSeconds)
				continue
			}
		}
		processorChannel <- msg
		KafkaMessages += 1
		LastKafkaMessageReceived = time.Now()
	}
	zap.S().Debugf("%s Shutting down Kafka consumer for topic %s", identifier, topic)
}

// StartPutbackProcessor returns unprocessable messages to their topic,
// tracking the attempt history inside the message key. A message that came
// back twice and is older than five minutes is parked on a putback-error
// topic and committed, so a poisoned payload cannot block its partition.
func StartPutbackProcessor(
	identifier string,
	putBackChannel chan PutBackChanMsg,
	kafkaProducer *kafka.Producer,
	commitChannel chan *kafka.Message,
	putBackChanSize int) {
	for !ShutdownPutback {
		select {
		case msgX := <-putBackChannel:
			{
				current := time.Now().UnixMilli()
				var msg = msgX.Msg
				var reason = msgX.Reason
				var errorString = msgX.ErrorString

				if msg == nil {
					continue
				}

				topic := *msg.TopicPartition.Topic

				var kafkaKey KafkaKey
				if msg.Key == nil {
					kafkaKey = KafkaKey{
						&Putback{
							FirstTsMS: current,
							LastTsMS:  current,
							Amount:    1,
							Reason:    reason,
						},
					}
				} else {
					err := json.Unmarshal(msg.Key, &kafkaKey)
					if err != nil {
						kafkaKey = KafkaKey{
							&Putback{
								FirstTsMS: current,
								LastTsMS:  current,
								Amount:    1,
								Reason:    reason,
							},
						}
					} else {
						kafkaKey.Putback.LastTsMS = current
						kafkaKey.Putback.Amount += 1
						kafkaKey.Putback.Reason = reason
						if kafkaKey.Putback.Amount >= 2 && kafkaKey.Putback.LastTsMS-kafkaKey.Putback.FirstTsMS > 300000 {
							topic = fmt.Sprintf("putback-error-%s", *msg.TopicPartition.Topic)
							if commitChannel != nil {
								commitChannel <- msg
							}
						}
					}
				}

				if errorString != nil && *errorString != "" {
					kafkaKey.Putback.Error = *errorString
				}

				var err error
				msg.Key, err = json.Marshal(kafkaKey)
				if err != nil {
					zap.S().Errorf("%s Failed to marshal key: %v (%s)", identifier, kafkaKey, err)
					err = nil
				}

				msgx := kafka.Message{
					TopicPartition: kafka.TopicPartition{
						Topic:     &topic,
						Partition: msg.TopicPartition.Partition,
					},
					Value: msg.Value,
					Key:   msg.Key,
				}

				err = kafkaProducer.Produce(&msgx, nil)
				if err != nil {
					putBackChannel <- PutBackChanMsg{&msgx, reason, errorString}
				}
				KafkaPutBacks += 1
			}
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
	zap.S().Infof("%s Putback processor shutting down", identifier)
}

// StartCommitProcessor stores the offsets of fully processed messages.
// Auto-commit then flushes them in the background.
func StartCommitProcessor(identifier string, commitChannel chan *kafka.Message, kafkaConsumer *kafka.Consumer) {
	zap.S().Infof("%s Starting commit processor", identifier)
	for !ShuttingDownKafka || len(commitChannel) > 0 {
		select {
		case msg := <-commitChannel:
			{
				_, err := kafkaConsumer.StoreMessage(msg)
				if err != nil {
					zap.S().Errorf("%s Error commiting %v: %s", identifier, msg, err)
					commitChannel <- msg
				} else {
					KafkaCommits += 1
				}
			}
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
	zap.S().Debugf("%s Stopped commit processor", identifier)
}

// StartEventHandler watches the producer event channel. Failed deliveries go
// back through the putback channel, successful ones only count.
func StartEventHandler(identifier string, events chan kafka.Event, backChan chan PutBackChanMsg) {
	for !ShuttingDownKafka || len(events) > 0 {
		select {
		case event := <-events:
			switch ev := event.(type) {
			case *kafka.Message:
				{
					if ev.TopicPartition.Error != nil {
						zap.S().Errorf("Error for %s: %v", identifier, ev.TopicPartition.Error)
						errS := ev.TopicPartition.Error.Error()
						backChan <- PutBackChanMsg{
							Msg:         ev,
							Reason:      "Event channel error",
							ErrorString: &errS,
						}
					} else {
						KafkaConfirmed += 1
					}
				}
			}
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
	zap.S().Debugf("%s Stopped event handler", identifier)
}

// DrainChannelSimple empties a message channel into the putback channel.
// It reports true once the channel to drain is empty.
func DrainChannelSimple(channelToDrain chan *kafka.Message, channelToDrainTo chan PutBackChanMsg) bool {
	select {
	case msg, ok := <-channelToDrain:
		if ok {
			channelToDrainTo <- PutBackChanMsg{msg, "Shutting down", nil}
		} else {
			return false
		}
	default:
		{
			return true
		}
	}
	return false
}
