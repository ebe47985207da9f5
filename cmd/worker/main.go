package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"classattend/internal/config"
	"classattend/internal/logging"
	"classattend/internal/queue"
	"classattend/internal/store"
	"classattend/internal/tally"
	"classattend/internal/worker"
)

// Worker consumes attendance events and maintains the live per-class tally.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will retry")
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		logger.Fatal().Msg("in-memory queues are drained by the api process; run the worker with redis or nats")
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("classattend-worker"))
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect failed")
		}
		defer nc.Close()
		q = queue.NewNATSQueue(nc, cfg.NATSSubject, "")
	default:
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	live := tally.New(redisClient.Client, cfg.TallyTTL)
	if _, err := worker.Run(ctx, q, live, logger); err != nil {
		logger.Fatal().Err(err).Msg("queue consume init failed")
	}
}
