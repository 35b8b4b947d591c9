package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/pulsar"
	"github.com/potatman/EventHorizon-sub000/pkg/sql"
)

func InitLogger() log.Logger {
	logLevel, err := env.Parse[string]("LOG_LEVEL")
	if err != nil {
		return log.New(log.LevelInfo)
	}

	return log.New(log.ParseLevel(logLevel))
}

func MustInitPulsarMessageBroker(optionalLogger log.Logger) *pulsar.MessageBroker {
	config := &pulsar.Config{
		Address: env.Must(env.Parse[string]("PULSAR_ADDRESS")),
	}
	connTimeout := env.Must(env.ParseOptional[*time.Duration]("PULSAR_CONNECTION_TIMEOUT"))
	if connTimeout != nil {
		config.ConnectionTimeout = *connTimeout
	}

	if optionalLogger == nil {
		optionalLogger = log.New(log.LevelDisabled)
	}

	messageBroker, err := pulsar.NewMessageBroker(config, optionalLogger)
	if err != nil {
		panic(fmt.Errorf("open pulsar connection: %w", err))
	}

	return messageBroker
}

func MustInitSQL(ctx context.Context, logger log.Logger, migrations ...sql.Migrations) sql.Database {
	sqlConfig := &sql.Config{
		DSN: sql.DSN{
			User:     env.Must(env.Parse[string]("SQL_USER")),
			Password: env.Must(env.Parse[string]("SQL_PASSWORD")),
			Address:  env.Must(env.Parse[string]("SQL_ADDRESS")),
			Database: env.Must(env.Parse[string]("SQL_DATABASE")),
		},
	}
	sqlConnTimeout := env.Must(env.ParseOptional[*time.Duration]("SQL_CONNECTION_TIMEOUT"))
	if sqlConnTimeout != nil {
		sqlConfig.ConnectionTimeout = *sqlConnTimeout
	}

	db, err := sql.NewDatabase(sqlConfig, logger)
	if err != nil {
		panic(fmt.Errorf("open sql connection: %w", err))
	}

	for _, migration := range migrations {
		err = sql.NewMigration(db, migration, logger).Execute(ctx)
		if err != nil {
			db.Close(ctx)
			panic(fmt.Errorf("execute migrations: %w", err))
		}
	}

	return db
}
