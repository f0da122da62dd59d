package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type resultConsumer interface {
	Run(ctx context.Context, subscription *gcppubsub.Subscriber) error
}

// ServiceParams wires the gateway worker.
type ServiceParams struct {
	Logger       *logger.Logger
	DB           pinger
	Redis        pinger
	PubSub       pinger
	Consumer     resultConsumer
	Subscription *gcppubsub.Subscriber
}

// Service runs the payout result consumer once its dependencies answer.
type Service struct {
	logg         *logger.Logger
	deps         []namedPinger
	consumer     resultConsumer
	subscription *gcppubsub.Subscriber
}

type namedPinger struct {
	name string
	p    pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("payout result consumer is required")
	}
	if params.Subscription == nil {
		return nil, errors.New("payout result subscription is required")
	}
	return &Service{
		logg: params.Logger,
		deps: []namedPinger{
			{name: "database", p: params.DB},
			{name: "redis", p: params.Redis},
			{name: "pubsub", p: params.PubSub},
		},
		consumer:     params.Consumer,
		subscription: params.Subscription,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.p.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until the consumer stops or the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	err := s.consumer.Run(ctx, s.subscription)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "payout result consumer stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}
