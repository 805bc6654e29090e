package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type singlePartition struct {
	messages []*sarama.ConsumerMessage
}

func (p *singlePartition) Partitions(string) ([]int32, error) { return []int32{0}, nil }

func (p *singlePartition) GetOffset(_ string, _ int32, marker int64) (int64, error) {
	if marker == sarama.OffsetOldest {
		return 0, nil
	}
	return int64(len(p.messages)), nil
}

func (p *singlePartition) OpenPartition(string, int32, int64) (kafka.PartitionStream, error) {
	return &replayStream{messages: p.messages}, nil
}

type replayStream struct {
	messages []*sarama.ConsumerMessage
	ch       chan *sarama.ConsumerMessage
}

func (s *replayStream) Messages() <-chan *sarama.ConsumerMessage {
	if s.ch == nil {
		s.ch = make(chan *sarama.ConsumerMessage, len(s.messages))
		for _, msg := range s.messages {
			s.ch <- msg
		}
		close(s.ch)
	}
	return s.ch
}

func (s *replayStream) Errors() <-chan *sarama.ConsumerError { return nil }
func (s *replayStream) Close() error                         { return nil }

func deadCallback(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(kafka.DeadLetter{
		OriginalTopic: kafka.TopicPaymentCallbacks,
		OriginalKey:   "order_Nx81",
		OriginalValue: `{"razorpay_payment_id":"pay_1"}`,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: value}
}

// fakeSession подменяет подключение к Kafka и запоминает конфиг.
func fakeSession(t *testing.T, messages []*sarama.ConsumerMessage, sinkErr error) (*replayConfig, *[]kafka.Replay, *bool) {
	t.Helper()

	var (
		captured replayConfig
		sent     []kafka.Replay
		closed   bool
	)
	old := openSession
	t.Cleanup(func() { openSession = old })

	openSession = func(cfg replayConfig) (*session, error) {
		captured = cfg
		partition := &singlePartition{messages: messages}
		s := &session{
			scanner: kafka.NewDeadLetterScanner(partition, partition, nil),
			close:   func() { closed = true },
		}
		if cfg.execute {
			s.sink = func(r kafka.Replay) error {
				if sinkErr != nil {
					return sinkErr
				}
				sent = append(sent, r)
				return nil
			}
		}
		return s, nil
	}
	return &captured, &sent, &closed
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(" , "))
}

func TestRootCmd_Flags(t *testing.T) {
	cfg, _, _ := fakeSession(t, nil, nil)

	_, err := execute(
		"--kafka-brokers=broker-1:9092,broker-2:9092",
		"--source-topic=storefront.dlq.v2",
		"--target-topic=storefront.order.events.v2",
		"--limit=10",
		"--execute",
		"--from-newest",
		"--idle-timeout=3s",
	)
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	require.True(t, cfg.execute)
	require.Equal(t, kafka.ScanOptions{
		SourceTopic: "storefront.dlq.v2",
		EventsTopic: "storefront.order.events.v2",
		Limit:       10,
		FromNewest:  true,
		IdleTimeout: 3 * time.Second,
	}, cfg.scan)
}

func TestRootCmd_EnvAndDefaults(t *testing.T) {
	t.Setenv("STOREFRONT_KAFKA_BROKERS", "env-broker:9092")
	t.Setenv("STOREFRONT_LIMIT", "7")
	cfg, _, _ := fakeSession(t, nil, nil)

	_, err := execute()
	require.NoError(t, err)
	require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.scan.SourceTopic)
	require.Equal(t, kafka.TopicOrderEvents, cfg.scan.EventsTopic)
	require.Equal(t, 7, cfg.scan.Limit)
	require.Equal(t, defaultIdleTimeout, cfg.scan.IdleTimeout)
	require.False(t, cfg.execute)
}

func TestRootCmd_ValidationErrors(t *testing.T) {
	t.Setenv("STOREFRONT_KAFKA_BROKERS", "")
	fakeSession(t, nil, nil)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no brokers", args: []string{"--kafka-brokers="}, want: "kafka brokers are required"},
		{name: "no source topic", args: []string{"--kafka-brokers=b:9092", "--source-topic= "}, want: "source-topic is required"},
		{name: "no target topic", args: []string{"--kafka-brokers=b:9092", "--target-topic="}, want: "target-topic is required"},
		{name: "zero limit", args: []string{"--kafka-brokers=b:9092", "--limit=0"}, want: "limit must be > 0"},
		{name: "zero idle timeout", args: []string{"--kafka-brokers=b:9092", "--idle-timeout=0s"}, want: "idle-timeout must be > 0"},
		{name: "positional args", args: []string{"--kafka-brokers=b:9092", "extra"}, want: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got: %v", tt.want, err)
			}
		})
	}
}

func TestRun_DryRunPrintsReport(t *testing.T) {
	_, sent, closed := fakeSession(t, []*sarama.ConsumerMessage{deadCallback(t, 0), {Offset: 1, Value: []byte(`{}`)}}, nil)

	out, err := execute("--kafka-brokers=b:9092", "--idle-timeout=50ms")
	require.NoError(t, err)
	require.Contains(t, out, "dry-run: scanned=2 replayed=1 skipped=1")
	require.Contains(t, out, kafka.TopicPaymentCallbacks+": 1")
	require.Empty(t, *sent)
	require.True(t, *closed)
}

func TestRun_ExecutePublishes(t *testing.T) {
	_, sent, _ := fakeSession(t, []*sarama.ConsumerMessage{deadCallback(t, 0)}, nil)

	out, err := execute("--kafka-brokers=b:9092", "--execute", "--idle-timeout=50ms")
	require.NoError(t, err)
	require.Contains(t, out, "execute: scanned=1 replayed=1 skipped=0")
	require.Len(t, *sent, 1)
	require.Equal(t, kafka.TopicPaymentCallbacks, (*sent)[0].Topic)
}

func TestRun_Failures(t *testing.T) {
	t.Run("publish error", func(t *testing.T) {
		_, _, closed := fakeSession(t, []*sarama.ConsumerMessage{deadCallback(t, 0)}, sarama.ErrOutOfBrokers)

		_, err := execute("--kafka-brokers=b:9092", "--execute", "--idle-timeout=50ms")
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.True(t, *closed)
	})

	t.Run("session error", func(t *testing.T) {
		old := openSession
		t.Cleanup(func() { openSession = old })
		openSession = func(replayConfig) (*session, error) { return nil, errors.New("brokers unreachable") }

		_, err := execute("--kafka-brokers=b:9092")
		require.ErrorContains(t, err, "brokers unreachable")
	})
}
