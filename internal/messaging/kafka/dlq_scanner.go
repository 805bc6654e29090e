package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// OffsetReader — часть sarama.Client, нужная сканеру.
type OffsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// PartitionStream — часть sarama.PartitionConsumer, нужная сканеру.
type PartitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionOpener открывает чтение одной партиции с указанного offset.
type PartitionOpener interface {
	OpenPartition(topic string, partition int32, offset int64) (PartitionStream, error)
}

// SaramaPartitions адаптирует sarama.Consumer к PartitionOpener.
type SaramaPartitions struct {
	Consumer sarama.Consumer
}

func (s SaramaPartitions) OpenPartition(topic string, partition int32, offset int64) (PartitionStream, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

// ReplaySink получает восстановленные сообщения. nil означает dry-run.
type ReplaySink func(Replay) error

// ScanOptions ограничивают проход по DLQ.
type ScanOptions struct {
	SourceTopic string
	EventsTopic string
	Limit       int
	FromNewest  bool
	IdleTimeout time.Duration
}

// ScanReport — итог прохода.
type ScanReport struct {
	Scanned  int
	Replayed int
	Skipped  int
	// ByTopic — сколько сообщений ушло (или ушло бы) в каждый topic.
	ByTopic map[string]int
}

func (r *ScanReport) add(other ScanReport) {
	r.Scanned += other.Scanned
	r.Replayed += other.Replayed
	r.Skipped += other.Skipped
	for topic, n := range other.ByTopic {
		r.ByTopic[topic] += n
	}
}

// partitionWindow — полуинтервал [start, end) offset'ов одной партиции,
// зафиксированный до начала чтения.
type partitionWindow struct {
	partition int32
	start     int64
	end       int64
}

// DeadLetterScanner читает DLQ и переотправляет письма, которые можно
// восстановить. Сообщения, пришедшие в DLQ после начала прохода, не читаются.
type DeadLetterScanner struct {
	offsets OffsetReader
	opener  PartitionOpener
	logger  *log.Entry
	now     func() time.Time
}

func NewDeadLetterScanner(offsets OffsetReader, opener PartitionOpener, logger *log.Entry) *DeadLetterScanner {
	if logger == nil {
		logger = log.WithField("component", "dlq-scanner")
	}
	return &DeadLetterScanner{offsets: offsets, opener: opener, logger: logger, now: time.Now}
}

// Scan проходит партиции по возрастанию номера, пока не прочитает
// opts.Limit сообщений.
func (s *DeadLetterScanner) Scan(ctx context.Context, opts ScanOptions, sink ReplaySink) (ScanReport, error) {
	report := ScanReport{ByTopic: map[string]int{}}
	if s.offsets == nil || s.opener == nil {
		return report, errors.New("kafka offsets and partition opener are required")
	}
	if opts.Limit <= 0 {
		return report, errors.New("scan limit must be > 0")
	}

	windows, err := s.windows(opts)
	if err != nil {
		return report, err
	}

	for _, window := range windows {
		left := opts.Limit - report.Scanned
		if left <= 0 {
			break
		}
		part, err := s.scanWindow(ctx, opts, window, left, sink)
		report.add(part)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *DeadLetterScanner) windows(opts ScanOptions) ([]partitionWindow, error) {
	partitions, err := s.offsets.Partitions(opts.SourceTopic)
	if err != nil {
		return nil, fmt.Errorf("get partitions for topic %s: %w", opts.SourceTopic, err)
	}
	slices.Sort(partitions)

	windows := make([]partitionWindow, 0, len(partitions))
	for _, partition := range partitions {
		oldest, err := s.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetOldest)
		if err != nil {
			return nil, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
		}
		newest, err := s.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
		}
		if newest <= oldest {
			continue
		}

		start := oldest
		if opts.FromNewest {
			start = max(newest-int64(opts.Limit), oldest)
		}
		windows = append(windows, partitionWindow{partition: partition, start: start, end: newest})
	}
	return windows, nil
}

func (s *DeadLetterScanner) scanWindow(ctx context.Context, opts ScanOptions, window partitionWindow, limit int, sink ReplaySink) (ScanReport, error) {
	report := ScanReport{ByTopic: map[string]int{}}

	stream, err := s.opener.OpenPartition(opts.SourceTopic, window.partition, window.start)
	if err != nil {
		return report, fmt.Errorf("consume partition %d: %w", window.partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	errs := stream.Errors()
	for report.Scanned < limit {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-idle.C:
			return report, nil
		case consumerErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if consumerErr != nil {
				return report, fmt.Errorf("partition %d consumer error: %w", window.partition, consumerErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= window.end {
				return report, nil
			}
			idle.Reset(opts.IdleTimeout)
			report.Scanned++

			if err := s.replayOne(msg, opts.EventsTopic, sink, &report); err != nil {
				return report, err
			}
			if msg.Offset+1 >= window.end {
				return report, nil
			}
		}
	}
	return report, nil
}

func (s *DeadLetterScanner) replayOne(msg *sarama.ConsumerMessage, eventsTopic string, sink ReplaySink, report *ScanReport) error {
	entry := s.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := ReplayFromDeadLetter(msg, eventsTopic, s.now())
	if err != nil {
		report.Skipped++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}

	if sink == nil {
		entry.WithFields(log.Fields{"target_topic": replay.Topic, "key": replay.Key}).Info("dlq replay candidate")
	} else if err := sink(replay); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	report.Replayed++
	report.ByTopic[replay.Topic]++
	return nil
}
