// Command relay runs the eBill relay service: the blossom blob endpoints,
// the email notification workflow, the SSRF-guarded proxy and the websocket
// relay behind one listener.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ebillrelay/blossom"
	"ebillrelay/config"
	"ebillrelay/notification"
	"ebillrelay/notification/email"
	"ebillrelay/observability/logging"
	"ebillrelay/proxy"
	"ebillrelay/ratelimit"
	"ebillrelay/relay"
	"ebillrelay/server"
	"ebillrelay/storage"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("ebill-relay", cfg.Env)
	logger.Info("starting relay")

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Error("could not connect to database", "error", err)
		os.Exit(1)
	}
	store := storage.New(db)
	if err := store.Migrate(); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	var sender email.Sender
	if cfg.EmailAPIKey != "" {
		sender = email.NewMailjetSender(email.MailjetConfig{
			APIKey:       cfg.EmailAPIKey,
			APISecretKey: cfg.EmailAPISecretKey,
			URL:          cfg.EmailURL,
		})
	} else {
		// No provider credentials: log mails instead of delivering them.
		logger.Warn("EMAIL_API_KEY not set, emails will only be logged")
		sender = &email.LogSender{Logger: logger}
	}

	guard := ratelimit.NewGuard()
	router := server.New(server.Deps{
		Notifications: notification.NewService(store, sender, guard, cfg.HostURL, cfg.EmailFromAddress),
		Proxy:         proxy.NewHandler(proxy.NewClient(proxy.NewDNSResolver(cfg.DNSResolver)), guard),
		Blobs:         blossom.NewHandler(store, cfg.HostURL),
		Relay: relay.NewEngine(store,
			relay.NewWritePolicy(ratelimit.NewChainLimiter(cfg.ChainRateLimit, cfg.ChainRateWindow))),
		StaticDir: cfg.StaticDir,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening", "address", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
