package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	spikedirectory "github.com/spike-events/spike-directory"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/providers"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("spike-directory", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to the YAML options file")
	address := flagSet.String("address", models.DefaultAddress, "HTTP listen address")
	developer := flagSet.Bool("developer", false, "developer mode, runs an embedded NATS broker")
	dbProvider := flagSet.String("db-provider", string(providers.SqliteProvider), "database provider: postgres or sqlite")
	dbDSN := flagSet.String("db-dsn", "", "database connection string")
	natsURL := flagSet.String("nats-url", "", "NATS server publishing lock events")
	logLevel := flagSet.String("log-level", "", "DEBUG, INFO or ERR")
	usersFile := flagSet.String("users-file", "", "YAML users file served by /um/sync/users")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	options, err := models.LoadOptions(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("address") {
		options.Address = *address
	}
	if flagSet.Changed("developer") {
		options.Developer = *developer
	}
	if flagSet.Changed("db-provider") {
		options.Database.Provider = providers.DatabaseProvider(*dbProvider)
	}
	if flagSet.Changed("db-dsn") {
		options.Database.DSN = *dbDSN
	}
	if flagSet.Changed("log-level") {
		options.LogLevel = *logLevel
	}
	if flagSet.Changed("users-file") {
		options.Sync.UsersFile = *usersFile
	}
	if flagSet.Changed("nats-url") {
		if options.NatsConfig == nil {
			options.NatsConfig = &models.NatsConfig{}
		}
		options.NatsConfig.NatsURL = *natsURL
	}
	if options.Developer && options.NatsConfig == nil {
		options.NatsConfig = &models.NatsConfig{LocalNats: true}
	}

	ctx, connected, err := spikedirectory.NewDirectoryServer(options)
	if err != nil {
		return err
	}
	<-connected
	log.Printf("main: directory serving on %s", options.Address)
	<-ctx.Done()
	return nil
}
