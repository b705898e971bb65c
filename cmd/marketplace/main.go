package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"datanexus-marketplace/internal/httpapi"
	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/db"
	"datanexus-marketplace/pkg/health"
	"datanexus-marketplace/pkg/logger"
	"datanexus-marketplace/pkg/redis"
	"datanexus-marketplace/pkg/sequence"
	"datanexus-marketplace/pkg/server"
	"datanexus-marketplace/pkg/task"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"
	"datanexus-marketplace/services/market"
	"datanexus-marketplace/services/settlement"
	"datanexus-marketplace/services/submission"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		health.Module,
		inventory.Module,
		ledger.Module,
		settlement.Module,
		market.Module,
		submission.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
