package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/parqueoasis/payments/cache"
	"bitbucket.org/parqueoasis/payments/cart"
	"bitbucket.org/parqueoasis/payments/checkout"
	"bitbucket.org/parqueoasis/payments/config"
	"bitbucket.org/parqueoasis/payments/db"
	"bitbucket.org/parqueoasis/payments/events"
	"bitbucket.org/parqueoasis/payments/helpers"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/reconcile"
	"bitbucket.org/parqueoasis/payments/webhook"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/negroni"
)

func recoveryHandler(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	defer func() {
		if err := recover(); err != nil {
			middlewares.GetLogger(r.Context()).WithField("panic", err).Error("recovered from panic")
			(&middlewares.ResponseWriter{Writer: w}).Error(http.StatusInternalServerError, middlewares.Messages.InternalServerError)
		}
	}()
	next(w, r)
}

type AppHandlerFunc func(*config.AppContext, *middlewares.ResponseWriter, *http.Request)

type AppHandler struct {
	Context     *config.AppContext
	HandlerFunc AppHandlerFunc
}

func (a *AppHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.HandlerFunc(a.Context, middlewares.NewResponseWriter(w, middlewares.GetLogger(r.Context())), r)
}

type Route struct {
	Path        string
	Handler     AppHandlerFunc
	Methods     []string
	IsProtected bool
}

func NewRouter(ctx *config.AppContext, routes []*Route) *mux.Router {
	router := mux.NewRouter()
	jwt := middlewares.NewJWTMiddleware([]byte(ctx.Config.JWTSecret))
	for _, r := range routes {
		handler := &AppHandler{Context: ctx, HandlerFunc: r.Handler}
		if r.IsProtected {
			router.Handle(r.Path, negroni.New(
				negroni.HandlerFunc(jwt.HandlerNext),
				negroni.Wrap(handler),
			)).Methods(r.Methods...)
			continue
		}
		router.Handle(r.Path, handler).Methods(r.Methods...)
	}
	return router
}

func GetAppContext() *ContextWrapper {
	log.SetFormatter(joonix.NewFormatter())
	var conf config.Configuration
	if err := envdecode.Decode(&conf); err != nil {
		log.WithField("error", err).Fatal("could not load the app configuration")
	}
	helpers.MinAmount = conf.Checkout.MinAmount

	return &ContextWrapper{
		Context: &config.AppContext{
			Config:    conf,
			StartedAt: time.Now(),
		},
	}
}

type ContextWrapper struct {
	Context *config.AppContext
}

func (wrapper *ContextWrapper) CreateSQLConnection() {
	conn, err := config.CreateConnectionSQL(wrapper.Context.Config.SQL)
	if err != nil {
		log.WithFields(log.Fields{
			"driver": wrapper.Context.Config.SQL.Driver,
			"error":  err,
		}).Fatal("sql: failed to connect")
	}
	conn.SetConnMaxLifetime(time.Minute * 5)
	wrapper.Context.SQLConn = conn
	wrapper.Context.DB, err = db.New(conn)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("sql: failed to connect")
	}
}

func (wrapper *ContextWrapper) CreateAlerts() {
	conf := wrapper.Context.Config
	alerter := &helpers.OperatorAlerter{
		EmailFrom: conf.Alerts.EmailFrom,
		NameFrom:  conf.Alerts.NameFrom,
		EmailTo:   conf.Alerts.EmailTo,
		Prefix:    conf.Alerts.SubjectPrefix,
	}
	if dialer := config.CreateNewConnectionSMTP(conf.SMTP); dialer != nil {
		wrapper.Context.SMTP = dialer
		alerter.SMTP = dialer
	} else {
		log.Warn("SMTP not configured, operator alerts are only logged")
	}
	wrapper.Context.Alerts = alerter
}

func (wrapper *ContextWrapper) CreateGatewayClient() {
	client, err := config.CreateGatewayClient(wrapper.Context.Config.Gateway)
	if err != nil {
		log.WithField("error", err).Fatal("failed to create gateway client")
	}
	wrapper.Context.Gateway = client
}

func (wrapper *ContextWrapper) CreateKafkaProducer() {
	conf := wrapper.Context.Config.Kafka
	if len(conf.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, payment events are not published")
		return
	}
	producer, err := events.Connect(conf.Brokers)
	if err != nil {
		log.WithField("error", err).Fatal("failed to create kafka producer")
	}
	wrapper.Context.Kafka = producer
}

func (wrapper *ContextWrapper) CreateRedisConnection() {
	conf := wrapper.Context.Config.Redis
	if conf.URL == "" {
		log.Warn("REDIS_URL not set, webhook deliveries are not deduplicated")
		return
	}
	client, err := cache.ConnectRedis(context.Background(), conf.URL)
	if err != nil {
		log.WithField("error", err).Fatal("failed to connect redis")
	}
	wrapper.Context.Redis = client
}

// CreateServices wires the engine, checkout and webhook ingestion on top of the connections.
func (wrapper *ContextWrapper) CreateServices() {
	ctx := wrapper.Context
	conf := ctx.Config

	opts := []reconcile.Option{reconcile.WithAlerter(ctx.Alerts)}
	if ctx.Kafka != nil {
		opts = append(opts, reconcile.WithPublisher(events.NewKafkaPublisher(ctx.Kafka, conf.Kafka.Topic)))
	}
	ctx.Engine = reconcile.New(ctx.DB, ctx.Gateway, opts...)
	ctx.Sweeper = reconcile.NewSweeper(ctx.Engine, ctx.DB)

	var carts cart.Snapshotter = cart.SingleLine{}
	if conf.Cart.URL != "" {
		carts = cart.NewClient(conf.Cart.URL, conf.Cart.Token, time.Duration(conf.Cart.TimeoutSeconds)*time.Second)
	}
	ctx.Checkout = checkout.NewService(ctx.DB, carts, conf.Checkout.MinAmount)

	var dedup cache.Dedup = cache.Noop{}
	if ctx.Redis != nil {
		dedup = cache.NewRedisDedup(ctx.Redis, time.Duration(conf.Redis.TTLHours)*time.Hour)
	}
	ctx.Webhooks = webhook.NewIngestor(conf.Gateway.WebhookSecret, ctx.Engine, ctx.DB, dedup, ctx.Alerts)
}

// Migrate creates the ledger schema on the connection opened by CreateSQLConnection.
func (wrapper *ContextWrapper) Migrate(ctx context.Context) error {
	store, ok := wrapper.Context.DB.(*db.DB)
	if !ok {
		return errors.New("sql connection not created")
	}
	return store.Migrate(ctx)
}

// Close releases every connection the wrapper opened.
func (wrapper *ContextWrapper) Close() {
	ctx := wrapper.Context
	if ctx.Alerts != nil {
		ctx.Alerts.Flush()
	}
	if ctx.Kafka != nil {
		if err := ctx.Kafka.Close(); err != nil {
			log.WithField("error", err).Warn("failed closing kafka producer")
		}
	}
	if ctx.Redis != nil {
		ctx.Redis.Close()
	}
	if ctx.SQLConn != nil {
		ctx.SQLConn.Close()
	}
}

func UpServer(routes []*Route, wrapper *ContextWrapper) {
	server := CreateServer(wrapper.Context, routes)
	defer wrapper.Close()

	log.Info("Environment " + wrapper.Context.Config.Environment)
	log.Info("Listening on " + server.Addr)

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		log.WithField("error", err).Error("server stopped")
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithField("error", err).Error("graceful shutdown failed")
		}
	}
}

func CreateServer(appCtx *config.AppContext, routes []*Route) *http.Server {
	n := negroni.New()
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "PUT", "PATCH", "HEAD"},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
	})
	n.Use(c)
	n.Use(negroni.HandlerFunc(middlewares.LoggerRequest))
	n.UseFunc(recoveryHandler)
	n.Use(middlewares.UserMiddleware())
	n.UseHandler(NewRouter(appCtx, routes))

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCtx.Config.Port),
		ReadTimeout:  time.Duration(appCtx.Config.Timeout) * time.Second,
		WriteTimeout: time.Duration(appCtx.Config.Timeout) * time.Second,
		Handler:      n,
	}
}
