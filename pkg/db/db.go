package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"

	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
)

const defaultDatabase = "expense-tracker"

type MongoOptions struct {
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
}

// Open builds a Manager for the configured MongoDB deployment. It does not
// dial; call Start or Connect.
func Open(cfg config.Config, log *zap.Logger, extra ...Option) *Manager {
	opts := []Option{
		WithRetry(cfg.DB.MaxRetries, cfg.DB.RetryDelay),
		WithLogger(log.Named("db")),
		WithDialer(MongoDialer(MongoOptions{
			Database:               cfg.MongoDatabase,
			ServerSelectionTimeout: cfg.DB.ServerSelectionTimeout,
			SocketTimeout:          cfg.DB.SocketTimeout,
		})),
	}
	return NewManager(cfg.MongoURI, append(opts, extra...)...)
}

// MongoConn wraps the driver client, which is itself a connection pool shared
// by all request handlers.
type MongoConn struct {
	client *mongo.Client
	dbName string
}

func (c *MongoConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *MongoConn) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *MongoConn) Database() *mongo.Database {
	return c.client.Database(c.dbName)
}

// MongoDialer connects and pings the primary. Timeouts given in the URI take
// precedence over o.
func MongoDialer(o MongoOptions) Dialer {
	return func(ctx context.Context, uri string) (Conn, error) {
		clientOpts := options.Client().ApplyURI(uri)

		if clientOpts.ConnectTimeout == nil {
			timeout := o.ConnectTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			clientOpts.SetConnectTimeout(timeout)
		}
		if clientOpts.ServerSelectionTimeout == nil && o.ServerSelectionTimeout > 0 {
			clientOpts.SetServerSelectionTimeout(o.ServerSelectionTimeout)
		}
		if clientOpts.SocketTimeout == nil && o.SocketTimeout > 0 {
			clientOpts.SetSocketTimeout(o.SocketTimeout)
		}
		if err := clientOpts.Validate(); err != nil {
			return nil, err
		}

		client, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}

		return &MongoConn{client: client, dbName: databaseName(uri, o.Database)}, nil
	}
}

func databaseName(uri, override string) string {
	if override != "" {
		return override
	}
	if cs, err := connstring.ParseAndValidate(uri); err == nil && cs.Database != "" {
		return cs.Database
	}
	return defaultDatabase
}
