package mongo

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultDatabase        = "resilience"
	defaultCollection      = "kv"
	defaultMaxPoolSize     = 20
	defaultConnectTimeout  = 10 * time.Second
	defaultServerSelection = 10 * time.Second
	defaultQueryTimeout    = 5 * time.Second
)

// Config is the persistence.mongo section:
//
//	persistence:
//	  mongo:
//	    host: localhost
//	    port: 27017
//	    database: admin-console
//	    collection: kv
//
// connection-string, when set, replaces host, port, credentials and URI flags.
type Config struct {
	ConnectionString string `mapstructure:"connection-string"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	ReplicaSet       string `mapstructure:"replica-set"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	DirectConnection bool   `mapstructure:"direct-connection"`
	Database         string `mapstructure:"database"`
	Collection       string `mapstructure:"collection"`

	MaxPoolSize         uint64        `mapstructure:"max-pool-size"`
	ConnectTimeout      time.Duration `mapstructure:"connect-timeout"`
	ServerSelectTimeout time.Duration `mapstructure:"server-select-timeout"`
	// QueryTimeout bounds every single store operation.
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("persistence.mongo", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load mongo config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ServerSelectTimeout == 0 {
		c.ServerSelectTimeout = defaultServerSelection
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
}

func (c Config) validate() error {
	if c.ConnectionString != "" {
		return nil
	}
	if c.Host == "" || c.Port == 0 {
		return errors.New("invalid mongo config: host and port are required without connection-string")
	}
	return nil
}

func buildURI(c Config) string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}

	params := url.Values{}
	if c.ReplicaSet != "" {
		params.Set("replicaSet", c.ReplicaSet)
	}
	if c.DirectConnection {
		params.Set("directConnection", "true")
	}
	u.RawQuery = params.Encode()

	return u.String()
}
