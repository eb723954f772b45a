package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/db"
	infraGateway "app/internal/infra/gateway"
	infraNotifier "app/internal/infra/notifier"
	infraRepo "app/internal/infra/repository"
	"app/internal/scheduler"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/joho/godotenv"
)

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func main() {
	//.envはローカル用。無くてもよい。
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Purchase{},
		&model.EscrowOrder{},
		&model.Notification{},
		&model.WebhookEvent{},
		&model.AuditLog{},
	); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	//Repository（GORM実装）生成
	txManager := infraRepo.NewTxManagerGorm(gormDB)
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	notifRepo := infraRepo.NewNotificationGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)

	//外部サービス
	gw := infraGateway.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	notif := infraNotifier.NewAsynqNotifier(cfg.RedisAddr)
	defer notif.Close()

	clock := &realClock{}

	//Usecase生成
	escrowUC := usecase.NewEscrowUsecase(txManager, gw, gw, auditRepo, notif, clock)
	purchaseUC := usecase.NewPurchaseUsecase(txManager, escrowUC, auditRepo, notif, clock,
		cfg.ContactWindow, cfg.PaymentWindow)
	disputeUC := usecase.NewDisputeUsecase(txManager, gw, escrowUC, auditRepo, notif, clock)
	webhookUC := usecase.NewWebhookUsecase(txManager, purchaseUC, escrowUC, clock, cfg.AutoReleaseWindow)

	//Handler生成
	h := server.Handlers{
		Purchase:     handler.NewPurchaseHandler(purchaseUC),
		AdminEscrow:  handler.NewAdminEscrowHandler(escrowUC, disputeUC, purchaseUC, auditRepo),
		Webhook:      handler.NewWebhookHandler(webhookUC, cfg),
		Notification: handler.NewNotificationHandler(notifRepo),
	}
	e := server.New(cfg, h)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//通知ワーカー（asynq）
	worker := infraNotifier.NewWorker(cfg.RedisAddr, userRepo)
	go func() {
		if err := worker.Run(); err != nil {
			log.Printf("notifier worker stopped: %v", err)
		}
	}()
	defer worker.Shutdown()

	//期限スイーパー
	sweeper := scheduler.NewSweeper(txManager, escrowUC, notif, clock, scheduler.Config{
		Interval:      cfg.SweepInterval,
		PaymentWindow: cfg.PaymentWindow,
		CancelGrace:   cfg.CancelGrace,
	})
	go sweeper.Run(ctx)

	//Server起動
	go func() {
		addr := ":" + cfg.Port
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
