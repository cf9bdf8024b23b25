package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"conduit/handlers"
	"conduit/internal/engine"
	"conduit/internal/logging"
	"conduit/internal/producer"
	"conduit/sink"
	"conduit/source/kafka"
)

func main() {
	logging.InitFromEnv()

	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Topic-routed Kafka consumer and publisher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), publishCmd())

	if err := root.Execute(); err != nil {
		logging.L().Error("conduit failed", "err", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the topics of the handlers named in the service file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, cfgFile)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			kc := e.Manager().Config()
			logging.L().Info("conduit started", "config", cfgFile, "kafka_enabled", kc.Enabled,
				"brokers", kc.BrokerList(), "group", kc.ConsumerGroupID)
			err = e.Run(ctx)
			logging.L().Info("conduit stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "service.yml", "service file")
	return cmd
}

func publishCmd() *cobra.Command {
	var (
		kafkaCfg string
		topic    string
		key      string
		rawJSON  string
		content  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one message and print where it was stored",
		Long: "Publishes --json verbatim, or wraps --content in a template message with a\n" +
			"generated id. Every message carries a message-id header.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (rawJSON == "") == (content == "") {
				return errors.New("exactly one of --json or --content is required")
			}
			kc, err := kafka.LoadConfig(kafkaCfg)
			if err != nil {
				return fmt.Errorf("kafka config: %w", err)
			}
			p, err := producer.New(kc)
			if err != nil {
				return err
			}
			defer p.Close()

			id := uuid.NewString()
			payload := []byte(rawJSON)
			if content != "" {
				if topic == "" {
					topic = handlers.TemplateTopic
				}
				payload, err = json.Marshal(handlers.TemplateMessage{
					ID:        id,
					Content:   content,
					Timestamp: time.Now().Unix(),
				})
				if err != nil {
					return fmt.Errorf("%w: %v", producer.ErrEncode, err)
				}
			} else if !json.Valid(payload) {
				return fmt.Errorf("%w: --json is not valid JSON", producer.ErrEncode)
			}
			if topic == "" {
				return errors.New("--topic is required with --json")
			}

			rec := sink.Record{
				Topic:   topic,
				Value:   payload,
				Headers: map[string][]byte{"message-id": []byte(id)},
			}
			if key != "" {
				rec.Key = []byte(key)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			r, err := p.SendRecord(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s partition=%d offset=%d id=%s\n", topic, r.Partition, r.Offset, id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kafkaCfg, "kafka-config", "", "broker config YAML (KAFKA_* variables override it)")
	f.StringVar(&topic, "topic", "", "destination topic (default template.events with --content)")
	f.StringVar(&key, "key", "", "message key")
	f.StringVar(&rawJSON, "json", "", "JSON payload to publish as is")
	f.StringVar(&content, "content", "", "content of a template message")
	f.DurationVar(&timeout, "timeout", 10*time.Second, "overall publish deadline")
	return cmd
}
