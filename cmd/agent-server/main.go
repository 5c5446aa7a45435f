package main

import (
	"os"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/router"
	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/env"
	"support-inbox-backend/internal/queue"
	"support-inbox-backend/internal/realtime"

	"github.com/rs/zerolog"
)

func main() {
	env.Load()
	env.Require(env.AWSRegion, env.AgentSecretKey, env.BusRedisURL)

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "agent-server").Logger()

	db, err := database.NewDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("db init failed")
	}

	rdb := realtime.NewRedisClient(env.Get(env.BusRedisURL), env.Get(env.BusRedisPass))
	bus := realtime.NewBus(rdb, log)

	queueManager := queue.NewManager(100, 10, log)

	server := api.NewAPIServer(
		":81",
		queueManager,
		db,
		bus,
		nil,
		log,
		router.UtilsRoutes(),
		router.InboxRoutes("/api/agent/v1"),
	)

	server.Run()
}
