package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portal-service/internal/client"
	"portal-service/internal/config"
	"portal-service/internal/events"
	"portal-service/internal/util"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Work with published portal events",
	}
	cmd.AddCommand(eventsTailCmd())
	return cmd
}

func eventsTailCmd() *cobra.Command {
	var (
		groupID string
		types   []string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print portal events from Kafka as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Events.Broker != config.BrokerKafka {
				return fmt.Errorf("events tail reads Kafka, but EVENTS_BROKER is %q", cfg.Events.Broker)
			}
			logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

			consumer, err := client.NewKafkaConsumer(cfg, groupID, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, cancel := signalContext()
			defer cancel()

			wanted := make(map[string]bool, len(types))
			for _, t := range types {
				wanted[t] = true
			}
			return tail(ctx, consumer, wanted, logger)
		},
	}

	cmd.Flags().StringVar(&groupID, "group", "portalctl-tail", "Kafka consumer group")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only print these event types")

	return cmd
}

func tail(ctx context.Context, consumer *client.KafkaConsumer, wanted map[string]bool, logger *zap.Logger) error {
	for {
		msg, err := consumer.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var event events.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Warn("skipping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if len(wanted) > 0 && !wanted[event.Type] {
			continue
		}
		fmt.Println(formatEvent(event))
	}
}

func formatEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-24s", e.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), e.Type)
	if e.AccountID != "" {
		fmt.Fprintf(&b, " account=%s", e.AccountID)
	}
	if e.PaymentID != "" {
		fmt.Fprintf(&b, " payment=%s", e.PaymentID)
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Data[k])
	}
	return b.String()
}
