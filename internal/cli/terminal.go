package cli

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/apiclient"
	"github.com/ariefcatur/go-restaurant-orders/internal/cache"
	"github.com/ariefcatur/go-restaurant-orders/internal/config"
	"github.com/ariefcatur/go-restaurant-orders/internal/connectivity"
	"github.com/ariefcatur/go-restaurant-orders/internal/guest"
	"github.com/ariefcatur/go-restaurant-orders/internal/localdb"
	"github.com/ariefcatur/go-restaurant-orders/internal/outbox"
	"github.com/ariefcatur/go-restaurant-orders/internal/realtime"
	"github.com/ariefcatur/go-restaurant-orders/internal/syncer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// terminal is every component of one terminal process, wired together.
type terminal struct {
	cfg     config.Terminal
	db      *localdb.DB
	api     *apiclient.Client
	cache   *cache.Cache
	queue   *outbox.Queue
	monitor *connectivity.Monitor
	channel *realtime.Channel
	coord   *syncer.Coordinator
	guests  *guest.Store
	linker  *guest.Linker
}

func openTerminal(opts *RootOptions) (*terminal, error) {
	cfg, err := config.LoadTerminal(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	db, err := localdb.Open(cfg.DataPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	logger := slog.Default()
	probeClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   3 * time.Second,
	}

	t := &terminal{
		cfg:     cfg,
		db:      db,
		api:     apiclient.New(cfg.APIURL, nil),
		cache:   cache.New(),
		queue:   outbox.New(db, logger),
		monitor: connectivity.New(connectivity.HTTPProbe(probeClient, cfg.APIURL), cfg.ProbeInterval, logger),
		channel: realtime.New(realtime.WebsocketURL(cfg.RealtimeURL), realtime.Options{
			Backoff: cfg.ReconnectDelay,
			Logger:  logger,
		}),
		guests: guest.NewStore(db, cfg.GuestTTL, logger),
	}
	t.coord = syncer.New(syncer.Deps{
		API:     t.api,
		Cache:   t.cache,
		Outbox:  t.queue,
		Monitor: t.monitor,
		Channel: t.channel,
		Logger:  logger,
	}, syncer.Options{
		TenantID:        cfg.TenantID,
		RefreshInterval: cfg.RefreshInterval,
		MaxAttempts:     cfg.MaxAttempts,
	})
	t.linker = guest.NewLinker(t.guests, t.api, t.coord, t.cache, logger)
	t.coord.OnCreated(t.linker.HandleCreated)
	return t, nil
}

func (t *terminal) Close() {
	t.channel.Close()
	if err := t.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
