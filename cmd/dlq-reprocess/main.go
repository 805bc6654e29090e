// Команда dlq-reprocess возвращает письма из DLQ в их topic'и. По умолчанию
// только показывает, что было бы отправлено.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	envPrefix          = "STOREFRONT"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	flagBrokers     = "kafka-brokers"
	flagSourceTopic = "source-topic"
	flagTargetTopic = "target-topic"
	flagLimit       = "limit"
	flagExecute     = "execute"
	flagFromNewest  = "from-newest"
	flagIdleTimeout = "idle-timeout"
)

type replayConfig struct {
	brokers []string
	execute bool
	scan    kafka.ScanOptions
}

// session — открытые подключения к Kafka на время одного прохода.
type session struct {
	scanner *kafka.DeadLetterScanner
	sink    kafka.ReplaySink
	close   func()
}

var openSession = func(cfg replayConfig) (*session, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "storefront-dlq-reprocess"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	s := &session{
		scanner: kafka.NewDeadLetterScanner(client, kafka.SaramaPartitions{Consumer: consumer}, log.WithField("component", "dlq-scanner")),
		close: func() {
			_ = consumer.Close()
			_ = client.Close()
		},
	}
	if !cfg.execute {
		return s, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, log.WithField("component", "dlq-replay-producer"))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	closeReaders := s.close
	s.sink = producer.PublishReplay
	s.close = func() {
		_ = producer.Close()
		closeReaders()
	}
	return s, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		_, _ = fmt.Fprintf(os.Stderr, "dlq replay failed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "dlq-reprocess",
		Short:         "Replay storefront dead letters back into their topics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagBrokers, "", "Kafka brokers as comma-separated list (env: STOREFRONT_KAFKA_BROKERS)")
	flags.String(flagSourceTopic, kafka.TopicDeadLetterQueue, "DLQ source topic")
	flags.String(flagTargetTopic, kafka.TopicOrderEvents, "topic for replayed outbox events")
	flags.Int(flagLimit, defaultReplayLimit, "max number of messages to scan")
	flags.Bool(flagExecute, false, "publish replays; default is dry-run")
	flags.Bool(flagFromNewest, false, "scan the latest messages of each partition")
	flags.Duration(flagIdleTimeout, defaultIdleTimeout, "stop reading a partition after this much silence")
	_ = v.BindPFlags(flags)

	return cmd
}

func readConfig(v *viper.Viper) (replayConfig, error) {
	cfg := replayConfig{
		brokers: parseBrokers(v.GetString(flagBrokers)),
		execute: v.GetBool(flagExecute),
		scan: kafka.ScanOptions{
			SourceTopic: strings.TrimSpace(v.GetString(flagSourceTopic)),
			EventsTopic: strings.TrimSpace(v.GetString(flagTargetTopic)),
			Limit:       v.GetInt(flagLimit),
			FromNewest:  v.GetBool(flagFromNewest),
			IdleTimeout: v.GetDuration(flagIdleTimeout),
		},
	}

	switch {
	case len(cfg.brokers) == 0:
		return cfg, errors.New("kafka brokers are required (--kafka-brokers or STOREFRONT_KAFKA_BROKERS)")
	case cfg.scan.SourceTopic == "":
		return cfg, errors.New("source-topic is required")
	case cfg.scan.EventsTopic == "":
		return cfg, errors.New("target-topic is required")
	case cfg.scan.Limit <= 0:
		return cfg, errors.New("limit must be > 0")
	case cfg.scan.IdleTimeout <= 0:
		return cfg, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, out io.Writer, cfg replayConfig) error {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger := log.WithFields(log.Fields{
		"mode":         mode,
		"source_topic": cfg.scan.SourceTopic,
		"target_topic": cfg.scan.EventsTopic,
		"limit":        cfg.scan.Limit,
	})
	logger.Info("starting dlq replay")

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if cfg.execute && s.sink == nil {
		return errors.New("producer is required in execute mode")
	}

	report, err := s.scanner.Scan(ctx, cfg.scan, s.sink)
	printReport(out, mode, report)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"scanned":  report.Scanned,
		"replayed": report.Replayed,
		"skipped":  report.Skipped,
	}).Info("dlq replay finished")
	return nil
}

func printReport(out io.Writer, mode string, report kafka.ScanReport) {
	_, _ = fmt.Fprintf(out, "%s: scanned=%d replayed=%d skipped=%d\n", mode, report.Scanned, report.Replayed, report.Skipped)

	topics := make([]string, 0, len(report.ByTopic))
	for topic := range report.ByTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		_, _ = fmt.Fprintf(out, "  %s: %d\n", topic, report.ByTopic[topic])
	}
}
