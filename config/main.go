package config

import (
	"fmt"
	"time"

	"bitbucket.org/parqueoasis/payments/checkout"
	"bitbucket.org/parqueoasis/payments/db"
	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/helpers"
	"bitbucket.org/parqueoasis/payments/reconcile"
	"bitbucket.org/parqueoasis/payments/webhook"
	"github.com/IBM/sarama"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/gomail.v2"
)

type Configuration struct {
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT,default=3001"`
	Timeout     int    `env:"TIMEOUT,default=30"`
	Environment string `env:"ENVIRONMENT,default=development"`
	AppName     string `env:"APP_NAME,default=payments"`
	SQL         database
	Gateway     GatewayConf
	SMTP        smtp
	Alerts      alerts
	Kafka       kafka
	Redis       redisConf
	Cart        cartConf
	Checkout    checkoutConf
	Sweep       sweepConf
}

type database struct {
	Driver         string `env:"DATA_BASE_DRIVER,default=mysql"`
	URL            string `env:"DATA_BASE_URL,required"`
	Name           string `env:"DATA_BASE_NAME,required"`
	User           string `env:"DATA_BASE_USER,required"`
	Port           int    `env:"DATA_BASE_PORT,default=3306"`
	Password       string `env:"DATA_BASE_PASSWORD,required"`
	SSLMode        string `env:"DATA_BASE_SSL_MODE,default=disable"`
	OpenConnection int    `env:"DATA_BASE_MAX_OPEN_CONNECTION,default=5"`
}

type GatewayConf struct {
	BaseURL        string `env:"GATEWAY_BASE_URL,default=https://api.tosspayments.com"`
	SecretKey      string `env:"GATEWAY_SECRET_KEY,required"`
	WebhookSecret  string `env:"GATEWAY_WEBHOOK_SECRET,required"`
	TimeoutSeconds int    `env:"GATEWAY_TIMEOUT_SECONDS,default=10"`
}

type smtp struct {
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
}

type alerts struct {
	EmailFrom     string   `env:"ALERT_EMAIL_FROM"`
	NameFrom      string   `env:"ALERT_NAME_FROM,default=Payments"`
	EmailTo       []string `env:"ALERT_EMAIL_TO"`
	SubjectPrefix string   `env:"ALERT_SUBJECT_PREFIX,default=[payments] "`
}

type kafka struct {
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC,default=payments.events"`
}

type redisConf struct {
	URL      string `env:"REDIS_URL"`
	TTLHours int    `env:"WEBHOOK_DEDUP_TTL_HOURS,default=24"`
}

type cartConf struct {
	URL            string `env:"CART_SERVICE_URL"`
	Token          string `env:"CART_SERVICE_TOKEN"`
	TimeoutSeconds int    `env:"CART_SERVICE_TIMEOUT_SECONDS,default=5"`
}

type checkoutConf struct {
	MinAmount int64 `env:"CHECKOUT_MIN_AMOUNT,default=100"`
}

type sweepConf struct {
	OlderThanMinutes int `env:"SWEEP_OLDER_THAN_MINUTES,default=30"`
	Limit            int `env:"SWEEP_LIMIT,default=100"`
}

func (c sweepConf) OlderThan() time.Duration {
	return time.Duration(c.OlderThanMinutes) * time.Minute
}

type AppContext struct {
	Config    Configuration
	SQLConn   *sqlx.DB
	DB        db.Storage
	SMTP      *gomail.Dialer
	Alerts    *helpers.OperatorAlerter
	Gateway   *gateway.Client
	Kafka     sarama.SyncProducer
	Redis     *redis.Client
	Engine    *reconcile.Engine
	Sweeper   *reconcile.Sweeper
	Checkout  *checkout.Service
	Webhooks  *webhook.Ingestor
	StartedAt time.Time
}

// DSN builds the driver specific connection string. MySQL gets clientFoundRows so compare-and-swap
// updates report matched rows.
func (conf database) DSN() (string, error) {
	switch conf.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true&loc=UTC",
			conf.User, conf.Password, conf.URL, conf.Port, conf.Name), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			conf.URL, conf.Port, conf.User, conf.Password, conf.Name, conf.SSLMode), nil
	}
	return "", errors.Errorf("unsupported database driver %q", conf.Driver)
}

func CreateConnectionSQL(conf database) (*sqlx.DB, error) {
	dsn, err := conf.DSN()
	if err != nil {
		return nil, err
	}
	connection, err := sqlx.Connect(conf.Driver, dsn)
	if err != nil {
		return nil, err
	}
	connection.SetMaxOpenConns(conf.OpenConnection)
	return connection, nil
}

// CreateNewConnectionSMTP returns nil when no SMTP host is configured; alerts are then only logged.
func CreateNewConnectionSMTP(conf smtp) *gomail.Dialer {
	if conf.SMTPHost == "" {
		return nil
	}
	return gomail.NewDialer(conf.SMTPHost, conf.SMTPPort, conf.SMTPUser, conf.SMTPPassword)
}

func CreateGatewayClient(conf GatewayConf) (*gateway.Client, error) {
	return gateway.New(gateway.Config{
		BaseURL:   conf.BaseURL,
		SecretKey: conf.SecretKey,
		Timeout:   time.Duration(conf.TimeoutSeconds) * time.Second,
	})
}
