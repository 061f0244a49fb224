package main

import (
	"context"
	"os"
	"time"

	"bitbucket.org/parqueoasis/payments/api"
	"bitbucket.org/parqueoasis/payments/server"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// @title payments API
// @version 0.2
// @description Checkout, payment confirmation and order status reconciliation.

// @host api.parqueoasis.cl
// @BasePath /
// @schemes http https

// @securityDefinitions.apiKey ApiKeyAuth
// @in header
// @name Authorization

func main() {
	_ = godotenv.Load("dev.env")

	app := cli.NewApp()
	app.Name = "Payments Service"
	app.Version = "2.00"
	app.Compiled = time.Now()
	app.Authors = []cli.Author{
		{
			Name:  "César Reyes",
			Email: "cesar95rt@gmail.com",
		},
	}
	app.Copyright = "(c) Routeland CORP"
	app.Commands = []cli.Command{
		{
			Name:  "backend-up",
			Usage: "This command starts the payments service",
			Action: func(c *cli.Context) error {
				StartServer(api.GetRoutes())
				return nil
			},
		},
		{
			Name:  "migrate",
			Usage: "Creates the payment ledger tables",
			Action: func(c *cli.Context) error {
				ctx := server.GetAppContext()
				ctx.CreateSQLConnection()
				defer ctx.Close()
				return ctx.Migrate(context.Background())
			},
		},
		{
			Name:  "reconcile-sweep",
			Usage: "Reconciles PENDING payments older than the given age against the gateway",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "older-than", Usage: "minutes since checkout, 0 uses SWEEP_OLDER_THAN_MINUTES"},
				cli.IntFlag{Name: "limit", Usage: "max payments per run, 0 uses SWEEP_LIMIT"},
			},
			Action: func(c *cli.Context) error {
				return Sweep(c.Int("older-than"), c.Int("limit"))
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func connect() *server.ContextWrapper {
	ctx := server.GetAppContext()
	ctx.CreateSQLConnection()
	ctx.CreateAlerts()
	ctx.CreateGatewayClient()
	ctx.CreateRedisConnection()
	ctx.CreateKafkaProducer()
	ctx.CreateServices()
	return ctx
}

func StartServer(routes []*server.Route) {
	server.UpServer(routes, connect())
}

func Sweep(olderThanMinutes, limit int) error {
	ctx := connect()
	defer ctx.Close()

	conf := ctx.Context.Config.Sweep
	olderThan := conf.OlderThan()
	if olderThanMinutes > 0 {
		olderThan = time.Duration(olderThanMinutes) * time.Minute
	}
	if limit <= 0 {
		limit = conf.Limit
	}

	report, err := ctx.Context.Sweeper.Sweep(context.Background(), olderThan, limit)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"checked":   report.Checked,
		"completed": report.Completed,
		"failed":    report.Failed,
		"pending":   report.Pending,
	}).Info("sweep finished")
	return nil
}
