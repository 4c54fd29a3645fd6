package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DavidGamba/go-getoptions"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opsdash/realtime/db"
	"github.com/opsdash/realtime/feed"
	"github.com/opsdash/realtime/handlers"
	"github.com/opsdash/realtime/handlerset"
	"github.com/opsdash/realtime/inbox"
	"github.com/opsdash/realtime/registry"

	_ "github.com/lib/pq"
)

// commandLineOptionValues represents the values of the command-line options that were passed on the command line when
// this service was invoked.
type commandLineOptionValues struct {
	Config string
	Debug  bool
}

func parseCommandLine() *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	// Default option values.
	defaultConfigPath := "/etc/opsdash/realtime.yml"

	// Define the command-line options.
	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.Config, "config", defaultConfigPath,
		opt.Alias("c"),
		opt.Description("the path to the configuration file"))
	opt.BoolVar(&optionValues.Debug, "debug", false,
		opt.Description("enable debug logging"))

	// Parse the command line, handling requests for help and usage errors.
	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}

	return optionValues
}

// loadConfig reads the configuration file, applying the defaults.
func loadConfig(path string) (*viper.Viper, error) {
	cfg := viper.New()
	cfg.SetConfigFile(path)
	cfg.SetDefault("amqp.exchange.name", "opsdash")
	cfg.SetDefault("amqp.exchange.type", "topic")
	cfg.SetDefault("amqp.queue", "realtime.events")
	cfg.SetDefault("db.driver", "postgres")
	cfg.SetDefault("db.max_open_conns", 16)
	cfg.SetDefault("db.max_idle_conns", 8)
	cfg.SetDefault("db.conn_max_lifetime", "30m")
	err := cfg.ReadInConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	// Parse the command-line.
	optionValues := parseCommandLine()

	// Initialize logging.
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if optionValues.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("service", "realtime")

	// Read in the configuration file.
	cfg, err := loadConfig(optionValues.Config)
	if err != nil {
		log.Fatal(err)
	}

	// Retrieve the AMQP settings.
	amqpSettings := &feed.AMQPSettings{
		URI:          cfg.GetString("amqp.uri"),
		ExchangeName: cfg.GetString("amqp.exchange.name"),
		ExchangeType: cfg.GetString("amqp.exchange.type"),
	}

	// Establish the database connection.
	poolSettings := db.PoolSettings{
		MaxOpenConns:    cfg.GetInt("db.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("db.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("db.conn_max_lifetime"),
	}
	database, err := db.InitDatabase(cfg.GetString("db.driver"), cfg.GetString("db.uri"), poolSettings)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	// Build the inbox service.
	inboxService := inbox.NewService(inbox.NewSQLStore(database), logrus.WithField("component", "inbox"))

	// Build the change-feed client and the subscription registry. The
	// registry is constructed here and handed to dashboard sessions; there
	// is deliberately no package-level instance.
	feedClient, err := feed.NewAMQPClient(amqpSettings, logrus.WithField("component", "feed"))
	if err != nil {
		log.Fatal(err)
	}
	defer feedClient.Close()
	subscriptionRegistry := registry.New(feedClient, logrus.WithField("component", "registry"))

	// Build the handler set for incoming domain events.
	handlerFor := handlers.InitMessageHandlers(inboxService, logrus.WithField("component", "handlers"))
	handlerSet, err := handlerset.New(amqpSettings, cfg.GetString("amqp.queue"), handlerFor, logrus.WithField("component", "handlerset"))
	if err != nil {
		log.Fatal(err)
	}
	defer handlerSet.Close()

	// Listen for incoming events until interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status := subscriptionRegistry.HealthCheck(ctx)
	log.Infof("change feed connected: %t", status.Connected)

	err = handlerSet.Listen(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Info("shutting down")
}
