package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/config"
	"github.com/korzewarrior/discord-countingbot/internal/counter"
	"github.com/korzewarrior/discord-countingbot/internal/discord"
	"github.com/korzewarrior/discord-countingbot/internal/domain"
	apphttp "github.com/korzewarrior/discord-countingbot/internal/http"
	"github.com/korzewarrior/discord-countingbot/internal/identity"
	"github.com/korzewarrior/discord-countingbot/internal/notify"
	"github.com/korzewarrior/discord-countingbot/internal/scanner"
	"github.com/korzewarrior/discord-countingbot/internal/security/secretbox"
	storepkg "github.com/korzewarrior/discord-countingbot/internal/store"
	"github.com/korzewarrior/discord-countingbot/internal/store/file"
	"github.com/korzewarrior/discord-countingbot/internal/store/memory"
	"github.com/korzewarrior/discord-countingbot/internal/store/postgres"
)

func main() {
	var (
		startNow   = flag.Bool("start", false, "start counting immediately")
		forceReset = flag.Bool("force", false, "restart the count from 1 on start")
		solo       = flag.Bool("solo", false, "enable solo mode on start")
		autoRst    = flag.Bool("auto-restart", false, "enable auto-restart after resets on start")
		smartSpeed = flag.Bool("smart-speed", false, "enable the smart speed preset on start")
		fixCount   = flag.Bool("fix", false, "rederive the count from history and exit")
		reconnect  = flag.Bool("reconnect", false, "recreate all identity sessions on boot")
	)
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	var box *secretbox.Box
	if cfg.TokenEncryptionKey != "" {
		var err error
		box, err = secretbox.New(cfg.TokenEncryptionKey)
		if err != nil {
			log.Fatalf("token encryption: %v", err)
		}
	} else {
		log.Printf("TOKEN_ENCRYPTION_KEY not set, identity tokens are stored in the clear")
	}

	var st storepkg.Store
	switch {
	case cfg.StoreMode == "postgres" && cfg.DatabaseURL != "":
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, box)
		if err != nil {
			log.Printf("postgres store unavailable, falling back to file store: %v", err)
			st = file.NewStore(cfg.StatePath, box)
		} else {
			st = pgStore
		}
	case cfg.StoreMode == "memory":
		st = memory.NewStore()
	default:
		st = file.NewStore(cfg.StatePath, box)
	}

	snap, err := st.Load()
	if err != nil {
		log.Fatalf("load state: %v", err)
	}

	pool := identity.NewPool(snap.Identities, func(rec domain.IdentityRecord) identity.Transport {
		return discord.NewClient(cfg.DiscordAPIBaseURL, rec.Token, rec.UserAgent,
			cfg.DiscordTimeout, cfg.SendMaxRetries, cfg.SendRetryBase)
	})

	sc := scanner.New(pool, cfg.ScanWindow)
	notifier := notify.New(
		notify.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout),
		notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID),
	)
	engine := counter.NewEngine(cfg, st, pool, sc, snap, notifier)

	if *fixCount {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := engine.FixCount(ctx)
		if err != nil {
			log.Fatalf("fix: %v", err)
		}
		log.Printf("fix: outcome %s, count %d", res.Outcome, engine.Status().CurrentCount)
		return
	}

	if *solo || *autoRst || *smartSpeed {
		opts := counter.Options{}
		if *solo {
			opts.SoloMode = boolPtr(true)
		}
		if *autoRst {
			opts.AutoRestart = boolPtr(true)
		}
		if *smartSpeed {
			opts.SmartSpeed = boolPtr(true)
		}
		if _, err := engine.Configure(opts); err != nil {
			log.Fatalf("configure: %v", err)
		}
	}

	if *reconnect {
		engine.ReconnectAll()
	}

	if *startNow {
		if err := engine.Start(*forceReset); err != nil {
			log.Printf("start: %v", err)
		}
	}

	srv := apphttp.NewServer(cfg, engine)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("counting bot API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := engine.Stop(); err != nil && err != counter.ErrNotActive {
		log.Printf("stop counting: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func boolPtr(v bool) *bool { return &v }
