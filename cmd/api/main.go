package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/config"
	"github.com/ariefcatur/go-restaurant-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/postgres"
	"github.com/ariefcatur/go-restaurant-orders/internal/redisx"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := telemetry.Setup(cfg.ServiceName)

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024)
	prod.Start(ctx)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Store:    &orders.Repo{DB: db},
		Tokens:   &redisx.GuestTokens{Redis: rdb, TTL: cfg.GuestTTL},
		Producer: prod,
		Service:  cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: otelhttp.NewHandler(router, cfg.ServiceName)}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush pending events
	cancel()
	prod.WaitClosed()
	_ = shutdownTracing(ctx2)
}
