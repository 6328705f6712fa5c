package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/verified"
	"github.com/spf13/cobra"
)

// storeFor opens the durable store named by cfg. Unlike the engine, the
// CLI reports connection failures instead of degrading.
func storeFor(ctx context.Context, cmd *cobra.Command, cfg goFallback.Config) (verified.Store, func(), error) {
	p := cfg.Persistence
	if !p.Enabled {
		return nil, nil, errors.New("persistence is disabled in the configuration")
	}

	switch p.Backend {
	case goFallback.PersistenceRedis:
		rdb := redisClient(cmd)
		if rdb == nil {
			return nil, nil, errors.New("redis persistence requires --redis-addr")
		}
		store := verified.NewRedisStore(rdb, p.RedisPrefix)
		return store, func() { _ = rdb.Close() }, nil
	default:
		db, err := verified.OpenGorm(p.Driver, p.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := verified.NewGormStore(db)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		if err := store.CreateTableIfMissing(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { _ = sqlDB.Close() }, nil
	}
}

// withStore runs fn against the configured store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store verified.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeFn, err := storeFor(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

func newVerifiedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verified",
		Short: "Maintain the durable verified-identity store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of stored pairs and distinct addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store verified.Store) error {
				rows, err := store.QueryAll(ctx)
				if err != nil {
					return err
				}
				addrs := make(map[string]struct{}, len(rows))
				for _, r := range rows {
					addrs[r.Address] = struct{}{}
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pairs=%d addresses=%d\n", len(rows), len(addrs))
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <address>",
		Short: "Forget every identity verified from an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store verified.Store) error {
				n, err := store.DeleteWhere(ctx, verified.Predicate{Address: args[0]})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed=%d\n", n)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every stored pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store verified.Store) error {
				if err := store.DeleteAll(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "cleared")
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-old <days>",
		Short: "Delete pairs verified more than <days> days ago",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[0])
			if err != nil || days < 1 {
				return fmt.Errorf("days must be a positive integer, got %q", args[0])
			}
			return withStore(cmd, func(ctx context.Context, store verified.Store) error {
				cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
				n, err := store.DeleteWhere(ctx, verified.Predicate{OlderThan: cutoff})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed=%d\n", n)
				return err
			})
		},
	})

	return cmd
}
