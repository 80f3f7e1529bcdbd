package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"trade-relay/internal/account"
	"trade-relay/internal/api"
	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/journal"
	"trade-relay/internal/monitor"
	"trade-relay/internal/notify"
	"trade-relay/pkg/config"
	"trade-relay/pkg/crypto"
	"trade-relay/pkg/exchanges/bybit"
	"trade-relay/pkg/instance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config load failed: %v", err)
	}

	if cfg.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Credentials key is optional: plaintext account files load without it.
	enc, err := crypto.FromEnv()
	if err != nil && !errors.Is(err, crypto.ErrKeyNotConfigured) {
		log.Fatalf("[main] credentials key: %v", err)
	}

	accountCfgs, err := config.LoadAccounts(cfg.AccountsPath, enc)
	if err != nil {
		log.Fatalf("[main] accounts load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Per-account gateway construction and the startup health gate. An
	// account failing verification is excluded from service; the process
	// aborts only when nothing is left to serve.
	var accounts []*account.Account
	for _, ac := range accountCfgs {
		gateway := bybit.NewClient(bybit.Config{
			APIKey:    ac.APIKey,
			APISecret: ac.APISecret,
			Testnet:   cfg.BybitTestnet,
		})
		gateway.StartTimeSync(ctx)

		acct := account.New(account.Config{
			Name:          ac.Name,
			DefaultSymbol: ac.DefaultSymbol,
			DefaultAmount: ac.DefaultAmount,
		}, gateway)

		verifyCtx, cancelVerify := context.WithTimeout(ctx, cfg.GatewayTimeout)
		err := acct.VerifyTradableInstruments(verifyCtx)
		cancelVerify()
		if err != nil {
			log.Printf("[main] account %s excluded, instrument verification failed: %v", ac.Name, err)
			continue
		}
		log.Printf("[main] account %s verified (%s, %v)", ac.Name, ac.DefaultSymbol, ac.DefaultAmount)
		accounts = append(accounts, acct)
	}
	if len(accounts) == 0 {
		log.Fatalf("[main] no account passed instrument verification, nothing to serve")
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	startedAt := time.Now()

	eng := engine.New(engine.Policy{
		SingleReset:    cfg.SingleReset,
		MinOrderAmount: cfg.MinOrderAmount,
		CallTimeout:    cfg.GatewayTimeout,
	}, metrics)

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[main] journal open failed: %v", err)
	}
	defer jnl.Close()

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, metrics)
	if err != nil {
		// Notifications are an optional feature; the relay trades without them.
		log.Printf("[main] telegram disabled: %v", err)
	}
	if notifier != nil {
		notifier.Start(bus)
		defer notifier.Stop()
	}

	server := api.NewServer(api.Options{
		Bus:            bus,
		Engine:         eng,
		Accounts:       accounts,
		Journal:        jnl,
		Metrics:        metrics,
		APISecret:      cfg.APISecret,
		PatternMarkers: cfg.PatternMarkers,
		JWTSecret:      cfg.JWTSecret,
		IPAllowList:    cfg.IPAllowList,
		Meta: api.SystemMeta{
			InstanceID: instance.ShortID(),
			Version:    buildVersion,
			Testnet:    cfg.BybitTestnet,
			StartedAt:  startedAt,
		},
	})

	addr := fmt.Sprintf("%s:%s", cfg.ListenHost, cfg.Port)
	printBanner(addr, buildVersion, accounts, cfg.BybitTestnet)
	bus.Publish(events.EventNotify, fmt.Sprintf("[%s] relay started, %d account(s)", instance.ShortID(), len(accounts)))

	go func() {
		if err := server.Start(addr); err != nil {
			log.Fatalf("[main] http server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[main] shutting down")
}

func printBanner(addr, buildVersion string, accounts []*account.Account, testnet bool) {
	env := "mainnet"
	if testnet {
		env = "testnet"
	}
	log.Printf("[main] trade-relay %s starting on %s (%s, instance %s)", buildVersion, addr, env, instance.ShortID())
	for i, a := range accounts {
		log.Printf("[main]   webhook: POST http://%s/order/bybit/sub%d -> %s", addr, i+1, a.Name())
	}
}
