package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SoloFlyer/FareWatch/config"
	"github.com/SoloFlyer/FareWatch/internal/broker/kafka"
	"github.com/SoloFlyer/FareWatch/internal/integrations/mailer"
	"github.com/SoloFlyer/FareWatch/internal/integrations/mailer/gmailsend"
	"github.com/SoloFlyer/FareWatch/internal/services/alerts"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
)

type consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type alertsFactories struct {
	newStorage  func(cfg *config.Config) (repo alerts.Repository, closeFn func(), err error)
	newConsumer func(cfg *config.Config, topic, group string) consumer
	newSender   func(ctx context.Context, cfg *config.Config) (mailer.Sender, error)
}

func defaultAlertsFactories() alertsFactories {
	return alertsFactories{
		newStorage: func(cfg *config.Config) (alerts.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgsearch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic, group string) consumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newSender: func(ctx context.Context, cfg *config.Config) (mailer.Sender, error) {
			return gmailsend.New(ctx,
				cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RefreshToken, cfg.Gmail.From)
		},
	}
}

// RunFareAlerts consumes price-updated events and emails users about
// drops, until the context is canceled.
func RunFareAlerts(ctx context.Context, cfg *config.Config, f alertsFactories) error {
	topic := cfg.Kafka.PriceUpdatedTopicName
	if topic == "" {
		topic = "price.updated"
	}
	group := cfg.FareWatch.KafkaConsumerGroup
	if group == "" {
		group = "fare-alerts"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	dryRun := cfg.FareWatch.AlertDryRun
	var sender mailer.Sender
	if !dryRun {
		sender, err = f.newSender(ctx, cfg)
		if err != nil {
			return err
		}
	}

	svc := alerts.New(repo, sender, dryRun)

	c := f.newConsumer(cfg, topic, group)
	defer func() { _ = c.Close() }()

	slog.Info("alerts consumer started", "topic", topic, "group", group, "dry_run", dryRun)
	return c.Consume(ctx, svc.HandleMessage(ctx))
}
