package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/db"
	"datanexus-marketplace/pkg/logger"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"
	"datanexus-marketplace/services/market"
	"datanexus-marketplace/services/settlement"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func migrate(gdb *gorm.DB, shutdowner fx.Shutdowner) error {
	err := gdb.AutoMigrate(
		&inventory.Item{},
		&settlement.Order{},
		&settlement.OrderLineItem{},
		&settlement.CartItem{},
		&ledger.LedgerEntry{},
		&ledger.Balance{},
		&ledger.WithdrawalRequest{},
		&market.Campaign{},
	)
	if err != nil {
		zap.L().Error("migration failed", zap.Error(err))
		return err
	}

	zap.L().Info("migration complete")
	return shutdowner.Shutdown()
}
