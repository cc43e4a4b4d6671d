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
	"github.com/ariefcatur/go-restaurant-orders/internal/fanout"
	"github.com/ariefcatur/go-restaurant-orders/internal/httpx"
	"github.com/ariefcatur/go-restaurant-orders/internal/hub"
	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/redisx"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := cfg.ServiceName + "-realtime"
	shutdownTracing := telemetry.Setup(service)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := hub.New()
	svc := &fanout.Service{
		Hub:   h,
		Dedup: &redisx.Dedup{Redis: rdb, Service: service},
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.FanoutGroup, orders.TopicOrderEvents, cfg.FanoutWorkers)
	go func() {
		log.Printf("fanout consumer started: group=%s topic=%s workers=%d", cfg.FanoutGroup, orders.TopicOrderEvents, cfg.FanoutWorkers)
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	router := httpx.NewRealtimeRouter(httpx.NewRealtimeHandler(h, cfg.RealtimeBuffer))
	srv := &http.Server{Addr: cfg.RealtimeAddr, Handler: router}
	go func() {
		log.Printf("realtime listening at %s", cfg.RealtimeAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down realtime...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	_ = shutdownTracing(ctx2)
}
