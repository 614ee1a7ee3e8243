package mongo

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/cryogenian/quasar-mongo/config"
)

// Provider acquires live, authenticated database handles, optionally
// tunneled through an SSH hop. Acquisition failures are fatal; they are
// never retried by the evaluation engine.
type Provider struct {
	logger *zap.Logger
}

// NewProvider creates a Provider. A nil logger is replaced with a no-op
// logger.
func NewProvider(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{logger: logger}
}

// Connect establishes the client described by the configuration and
// verifies it with a ping, so misconfiguration surfaces here rather than
// on the first evaluation.
func (p *Provider) Connect(ctx context.Context, cfg *config.Config) (*Conn, error) {
	opts := options.Client().ApplyURI(cfg.URI)

	var tunnel *tunnelDialer
	if cfg.Tunnel != nil {
		var err error
		tunnel, err = dialTunnel(cfg.Tunnel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTunnelFailed, err)
		}
		p.logger.Info("ssh tunnel established", zap.String("addr", cfg.Tunnel.Addr))
		opts.SetDialer(tunnel)
	}

	client, err := driver.Connect(ctx, opts)
	if err != nil {
		closeTunnel(tunnel)
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		closeTunnel(tunnel)
		return nil, fmt.Errorf("%w: ping: %v", ErrConnectionFailed, err)
	}

	p.logger.Info("connected", zap.String("database", cfg.Database))
	return &Conn{client: client, database: cfg.Database, tunnel: tunnel, logger: p.logger}, nil
}

func closeTunnel(tunnel *tunnelDialer) {
	if tunnel != nil {
		_ = tunnel.Close()
	}
}

// Conn is an established connection. It is a shared, reusable resource:
// evaluations borrow collection handles from it and never retain cursor
// state across calls.
type Conn struct {
	client   *driver.Client
	database string
	tunnel   *tunnelDialer
	logger   *zap.Logger
}

// Collection returns a handle for one evaluation. An empty database name
// selects the configured default database.
func (c *Conn) Collection(database, name string) Collection {
	if database == "" {
		database = c.database
	}
	return NewCollection(c.client.Database(database).Collection(name))
}

// DatabaseNames enumerates the databases visible to the connected role.
func (c *Conn) DatabaseNames(ctx context.Context) ([]string, error) {
	names, err := c.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	return names, nil
}

// CollectionExists reports whether the named collection exists in the
// database, subject to the connected role's privileges.
func (c *Conn) CollectionExists(ctx context.Context, database, name string) (bool, error) {
	if database == "" {
		database = c.database
	}
	names, err := c.client.Database(database).ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("listing collections of %s: %w", database, err)
	}
	return len(names) > 0, nil
}

// ServerVersion discovers the live server's version for capability gating.
func (c *Conn) ServerVersion(ctx context.Context) (*semver.Version, error) {
	var info struct {
		Version string `bson:"version"`
	}
	res := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}})
	if err := res.Decode(&info); err != nil {
		return nil, fmt.Errorf("buildInfo: %w", err)
	}
	version, err := semver.NewVersion(info.Version)
	if err != nil {
		return nil, fmt.Errorf("parsing server version %q: %w", info.Version, err)
	}
	return version, nil
}

// Close disconnects the client and tears down the tunnel, if any.
func (c *Conn) Close(ctx context.Context) error {
	err := c.client.Disconnect(ctx)
	if c.tunnel != nil {
		if terr := c.tunnel.Close(); err == nil {
			err = terr
		}
	}
	return err
}
