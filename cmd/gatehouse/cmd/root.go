package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/gatehouse/internal/config"
	"github.com/terraconstructs/gatehouse/internal/db/bunx"
	"github.com/terraconstructs/gatehouse/internal/repository"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Session authentication gateway",
	Long: `gatehouse issues and resolves agent sessions and serves them over HTTP
under secure, open and internal authorisation postures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("db-url", "", "Database connection URL (env: GATEHOUSE_DATABASE_URL)")
	flags.String("redis-url", "", "Redis URL for session storage (env: GATEHOUSE_REDIS_URL)")
	flags.String("server-addr", "", "Server bind address (env: GATEHOUSE_SERVER_ADDR)")
	flags.String("log-level", "", "Log level: debug, info, warn or error (env: GATEHOUSE_LOG_LEVEL)")
	flags.Bool("debug", false, "Relax cookie, CORS and client address checks (env: GATEHOUSE_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"redis_url":    "redis-url",
		"server_addr":  "server-addr",
		"log_level":    "log-level",
		"debug":        "debug",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stores holds the repositories the commands work against.
type stores struct {
	db       *bun.DB
	redis    *redis.Client
	agents   *repository.BunAgentRepository
	sessions repository.SessionRepository
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = bunx.Close(s.db)
}

// openStores connects to the database and, when configured, Redis.
// Sessions live in Redis if a URL is set and in the database otherwise.
func openStores(ctx context.Context) (*stores, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &stores{db: db, agents: repository.NewBunAgentRepository(db)}

	ttl := cfg.SessionSettings().TTL
	if cfg.RedisURL == "" {
		s.sessions = repository.NewBunSessionRepository(db, repository.WithPruneOnInsert(ttl))
		return s, nil
	}

	client, err := repository.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = client
	s.sessions = repository.NewRedisSessionRepository(client, ttl)
	return s, nil
}
