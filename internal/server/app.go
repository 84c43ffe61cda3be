// Package server initializes and runs the chatkeeper server. It wires the
// cache store, the delivery channel, the sync engine and the HTTP API, and
// handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/archive"
	"github.com/dmitrijs2005/chatkeeper/internal/server/cachestore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/chatkeeper/internal/server/dispatch"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/dmitrijs2005/chatkeeper/internal/server/signature"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
)

// natsTokenValidity outlives JetStream redeliveries of a signed job.
const natsTokenValidity = 24 * time.Hour

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	store    *cachestore.RedisStore
	nats     *dispatch.NATSPublisher
	server   *httpapi.Server
	consumer *delivery.NATSConsumer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)
	app := &App{config: c, logger: logger}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := cachestore.NewRedisStoreFromURL(c.RedisURL)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("cache init error: %w", err)
	}
	app.store = store

	pub, err := app.publisher(ctx)
	if err != nil {
		app.close()
		return nil, err
	}
	dispatcher := dispatch.NewDispatcher(pub, c.CallbackBaseURL, logger)

	arc, err := archive.New(ctx, c)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("archive init error: %w", err)
	}

	engine := syncengine.NewEngine(db, rm, arc, c.BatchConcurrency, logger)
	receiver := delivery.NewReceiver(signature.NewVerifier(c.QStashCurrentSigningKey, c.QStashNextSigningKey), engine, logger)

	opts := []entitycache.Option{entitycache.WithDelay(c.DispatchDelay), entitycache.WithLogger(logger)}
	accounts := services.NewAccountService(db, rm, entitycache.NewAccounts(store, dispatcher, opts...), services.NoopIdentityProvider{}, logger)
	personas := services.NewPersonaService(db, rm, entitycache.NewPersonas(store, dispatcher, opts...), accounts, logger)
	conversations := services.NewConversationService(db, rm, entitycache.NewConversations(store, dispatcher, opts...), accounts, personas, logger)
	messages := services.NewMessageService(db, rm, entitycache.NewMessages(store, dispatcher, opts...), conversations, logger)

	app.server = httpapi.NewServer(c.EndpointAddrHTTP, c.APIToken, logger, receiver, httpapi.Services{
		Accounts:      accounts,
		Personas:      personas,
		Conversations: conversations,
		Messages:      messages,
	}, map[string]httpapi.HealthCheck{
		"database": db.PingContext,
		"cache":    store.Ping,
	})

	if app.nats != nil {
		app.consumer, err = delivery.NewNATSConsumer(ctx, app.nats.JetStream(), receiver, logger)
		if err != nil {
			app.close()
			return nil, err
		}
	}

	return app, nil
}

// publisher builds the delivery channel selected by DeliveryTransport.
func (app *App) publisher(ctx context.Context) (dispatch.Publisher, error) {
	c := app.config
	switch c.DeliveryTransport {
	case config.TransportQStash:
		return dispatch.NewQStashPublisher(c.QStashURL, c.QStashToken, &http.Client{Timeout: 10 * time.Second}), nil
	case config.TransportNATS:
		signer := signature.NewSigner(c.QStashCurrentSigningKey).WithValidity(natsTokenValidity)
		pub, err := dispatch.NewNATSPublisher(ctx, c.NATSURL, signer)
		if err != nil {
			return nil, fmt.Errorf("nats init error: %w", err)
		}
		app.nats = pub
		return pub, nil
	}
	return nil, fmt.Errorf("unknown delivery transport %q", c.DeliveryTransport)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startNATSConsumer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.consumer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "transport", app.config.DeliveryTransport)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startNATSConsumer(ctx, cancelFunc)
		}()
	}

	wg.Wait()
	app.close()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) close() {
	if app.nats != nil {
		_ = app.nats.Close()
	}
	if app.store != nil {
		_ = app.store.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
