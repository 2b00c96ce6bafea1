package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tipme/tipme-server/internal/config"
	"github.com/tipme/tipme-server/internal/logger"
	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/mpesa"
	"github.com/tipme/tipme-server/internal/repo"
	"github.com/tipme/tipme-server/internal/service"
	httptransport "github.com/tipme/tipme-server/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load env + config
	_ = godotenv.Load()
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Wallet{},
		&model.LedgerEntry{},
		&model.PaymentIntent{},
		&model.Withdrawal{},
		&model.PlatformWallet{},
		&model.PlatformLedgerEntry{},
		&model.Profile{},
		&model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. gateway client
	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:            cfg.Mpesa.BaseURL,
		ConsumerKey:        cfg.Mpesa.ConsumerKey,
		ConsumerSecret:     cfg.Mpesa.ConsumerSecret,
		ShortCode:          cfg.Mpesa.ShortCode,
		PassKey:            cfg.Mpesa.PassKey,
		B2CShortCode:       cfg.Mpesa.B2CShortCode,
		InitiatorName:      cfg.Mpesa.InitiatorName,
		SecurityCredential: cfg.Mpesa.SecurityCredential,
		CallbackBaseURL:    cfg.Mpesa.CallbackBaseURL,
		B2CSuccessCode:     cfg.Mpesa.B2CSuccessCode,
	}, rdb, log)

	// 7. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	engine := service.NewLedgerEngine(repository, log)
	payments := service.NewPaymentService(repository, engine, gateway, decimal.NewFromFloat(cfg.Fees.PlatformRate), log)
	withdrawals := service.NewWithdrawalService(repository, engine, gateway, cfg.Mpesa.B2CSuccessCode, log)
	wallets := service.NewWalletService(repository, log)

	// 8. gin router
	handlers := httptransport.NewHandlers(payments, withdrawals, wallets, log)
	router := httptransport.NewRouter(handlers, cfg.RateLimit, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("tipme-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
