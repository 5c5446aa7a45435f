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

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ws-server").Logger()

	db, err := database.NewDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("db init failed")
	}

	rdb := realtime.NewRedisClient(env.Get(env.BusRedisURL), env.Get(env.BusRedisPass))
	bus := realtime.NewBus(rdb, log)

	hub := realtime.NewHub()
	go hub.Run()
	handler := realtime.NewHandler(hub, bus, log)

	queueManager := queue.NewManager(100, 10, log)

	server := api.NewAPIServer(
		":83",
		queueManager,
		db,
		bus,
		handler,
		log,
		router.UtilsRoutes(),
		router.WebsocketRoutes("/api/ws/v1"),
	)

	server.Run()
}
