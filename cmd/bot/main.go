package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"doubtdesk/bot/internal/app"
	"doubtdesk/bot/internal/blacklist"
	"doubtdesk/bot/internal/bot"
	"doubtdesk/bot/internal/config"
	"doubtdesk/bot/internal/dispatch"
	"doubtdesk/bot/internal/email"
	"doubtdesk/bot/internal/notify"
	"doubtdesk/bot/internal/objectstore"
	"doubtdesk/bot/internal/search"
	"doubtdesk/bot/internal/session"
	"doubtdesk/bot/internal/store"
	"doubtdesk/bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not read .env: %v", err)
	}
	cfg := config.Load()
	if strings.TrimSpace(cfg.BotToken) == "" {
		log.Fatal("BOT_TOKEN is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Fatal("WEBHOOK_SECRET is required")
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	migrations, err := store.Migrations(cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations unavailable: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	revoked := blacklist.New(dataStore, blacklist.Config{TTL: cfg.BlacklistTTL})
	if err := revoked.Refresh(ctx); err != nil {
		log.Printf("WARNING: initial blacklist load failed (lookups fail until it succeeds): %v", err)
	}

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: object storage bucket check failed (will retry on first upload): %v", err)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var alertMailer notify.Mailer
	if mailer.IsConfigured() {
		alertMailer = mailer
	}
	notifier := notify.New(notify.Config{WebhookURL: cfg.AdminWebhookURL, AdminEmail: cfg.AdminEmail}, alertMailer)
	if !notifier.Enabled() {
		log.Printf("Admin notifications disabled")
	}

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts, pgfts)
	go searchService.ReindexAllFromPG(context.Background())

	tg, err := telegram.New(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram setup failed: %v", err)
	}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		link := strings.TrimRight(cfg.WebhookURL, "/") + "/" + cfg.WebhookSecret
		if err := tg.SetWebhook(link); err != nil {
			log.Fatalf("webhook registration failed: %v", err)
		}
	}

	machine := bot.NewMachine(bot.Config{SupportPhone: cfg.SupportPhone}, bot.Deps{
		Sessions:  sessions,
		Accounts:  dataStore,
		Doubts:    dataStore,
		Blacklist: revoked,
		Uploader:  objects,
		Photos:    tg,
		Notifier:  notifier,
		Indexer:   searchService,
	})

	service := app.New(app.Deps{
		Conversation: machine,
		Transport:    tg,
		Dispatcher:   dispatch.New(dispatch.Config{Workers: cfg.WorkerLimit, JobTimeout: cfg.EventTimeout}),
		Search:       searchService,
		Checks: []app.Check{
			{Name: "database", Pinger: dataStore},
			{Name: "redis", Pinger: sessions},
		},
	})
	go service.NotifyRestart(context.Background())

	httpServer := app.NewHTTPServer(service, cfg.WebhookPath, cfg.WebhookSecret, cfg.AdminToken)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Doubt desk bot listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.EventTimeout+10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Printf("dispatcher shutdown error: %v", err)
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		log.Printf("notifications still pending at exit: %v", err)
	}
}
