package cli

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the strata configuration from strata.yaml.
type Config struct {
	// Catalog is the path of the catalog YAML document.
	Catalog string `mapstructure:"catalog" json:"catalog"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Cluster  ClusterConfig  `mapstructure:"cluster" json:"cluster"`

	// Per-command configuration
	Migrate MigrateConfig `mapstructure:"migrate" json:"migrate"`
	Compile CompileConfig `mapstructure:"compile" json:"compile"`
	Doctor  DoctorConfig  `mapstructure:"doctor" json:"doctor"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is the database/sql driver name: pgx, postgres, mysql,
	// sqlserver, godror or sqlite3.
	Driver   string `mapstructure:"driver" json:"driver"`
	URL      string `mapstructure:"url" json:"url,omitempty"`
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Name     string `mapstructure:"name" json:"name,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"-"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode,omitempty"`
}

// ClusterConfig holds the Redis coordinator settings used by doctor.
type ClusterConfig struct {
	Redis  string `mapstructure:"redis" json:"redis,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix"`
}

// MigrateConfig holds migration settings.
type MigrateConfig struct {
	DryRun bool `mapstructure:"dry_run" json:"dry_run"`
	Force  bool `mapstructure:"force" json:"force"`
}

// CompileConfig holds compile command settings.
type CompileConfig struct {
	Dialect string `mapstructure:"dialect" json:"dialect,omitempty"`
	Limit   int    `mapstructure:"limit" json:"limit"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose" json:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog", "catalog.yaml")

	// AutomaticEnv only sees keys viper knows about, so every key gets a
	// default.
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("cluster.redis", "")
	v.SetDefault("cluster.prefix", "strata:")

	v.SetDefault("migrate.dry_run", false)
	v.SetDefault("migrate.force", false)

	v.SetDefault("compile.dialect", "")
	v.SetDefault("compile.limit", 0)

	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for strata.yaml or strata.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"strata.yaml", "strata.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

var defaultPorts = map[string]int{
	"pgx":       5432,
	"postgres":  5432,
	"mysql":     3306,
	"sqlserver": 1433,
	"godror":    1521,
}

// DSN returns the database connection string for the configured driver.
// If database.url is set, it's returned directly. Otherwise a DSN is built
// from the discrete fields in the driver's format.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Driver == "sqlite3" {
		if db.Name == "" {
			return "", fmt.Errorf("database.name is required when database.url is not set")
		}
		return db.Name, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	port := db.Port
	if port == 0 {
		port = defaultPorts[db.Driver]
	}
	addr := net.JoinHostPort(db.Host, strconv.Itoa(port))

	switch db.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = db.User
		mc.Passwd = db.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = db.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case "godror":
		// Easy Connect: user/password@host:port/service
		return fmt.Sprintf("%s/%s@%s/%s", db.User, db.Password, addr, db.Name), nil
	case "sqlserver":
		u := &url.URL{Scheme: "sqlserver", Host: addr, User: userInfo(db)}
		q := u.Query()
		q.Set("database", db.Name)
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "pgx", "postgres":
		u := &url.URL{Scheme: "postgres", Host: addr, Path: "/" + db.Name, User: userInfo(db)}
		if db.SSLMode != "" {
			q := u.Query()
			q.Set("sslmode", db.SSLMode)
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported database.driver %q", db.Driver)
}

func userInfo(db DatabaseConfig) *url.Userinfo {
	if db.Password != "" {
		return url.UserPassword(db.User, db.Password)
	}
	return url.User(db.User)
}
