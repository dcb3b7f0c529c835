package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Morditux/sessionstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// openBackend picks the store from EXAMPLE_BACKEND (memory, sqlite,
// postgres, pgx, redis, memcached, mongo) and EXAMPLE_BACKEND_URL.
func openBackend(ctx context.Context, cfg sessionstore.Config) (sessionstore.Backend, func(), error) {
	url := os.Getenv("EXAMPLE_BACKEND_URL")
	noop := func() {}

	switch kind := os.Getenv("EXAMPLE_BACKEND"); kind {
	case "", "sqlite":
		if url == "" {
			url = "sessions.db"
		}
		store, err := sessionstore.NewSQLiteStoreWithConfig(sessionstore.SQLiteConfig{
			DSN:             url,
			TableName:       cfg.TableName,
			MaxOpenConns:    16,
			MaxIdleConns:    16,
			MaxSessionBytes: cfg.MaxSessionBytes,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := sessionstore.NewPostgreSQLStoreWithConfig(sessionstore.PostgreSQLConfig{
			DSN:             url,
			TableName:       cfg.TableName,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			MaxSessionBytes: cfg.MaxSessionBytes,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case "pgx":
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, noop, err
		}
		store, err := sessionstore.NewPgxStore(ctx, pool, sessionstore.PgxConfig{
			TableName:       cfg.TableName,
			MaxSessionBytes: cfg.MaxSessionBytes,
		})
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return store, pool.Close, nil
	case "redis":
		store, err := sessionstore.NewRedisStoreFromURL(ctx, url, sessionstore.RedisConfig{
			KeyPrefix:       cfg.KeyPrefix,
			MaxSessionBytes: cfg.MaxSessionBytes,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case "memcached":
		store := sessionstore.NewMemcachedStoreWithConfig(sessionstore.MemcachedConfig{
			Servers:         strings.Split(url, ","),
			TTL:             cfg.Lifetime,
			KeyPrefix:       cfg.KeyPrefix,
			MaxSessionBytes: cfg.MaxSessionBytes,
			Timeout:         time.Second,
		})
		return store, func() { store.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(url))
		if err != nil {
			return nil, noop, err
		}
		disconnect := func() { client.Disconnect(context.Background()) }
		store, err := sessionstore.NewMongoStore(ctx, client.Database("example"), sessionstore.MongoConfig{
			Collection:      cfg.TableName,
			MaxSessionBytes: cfg.MaxSessionBytes,
		})
		if err != nil {
			disconnect()
			return nil, noop, err
		}
		return store, disconnect, nil
	case "memory":
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown backend %q", kind)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg, err := sessionstore.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	defer closeStore()

	opts := []sessionstore.Option{
		sessionstore.WithLogger(logger),
		sessionstore.WithRegisterer(prometheus.DefaultRegisterer),
	}
	if store != nil {
		opts = append(opts, sessionstore.WithBackend(store))
	}
	mgr, err := sessionstore.NewManager(cfg, opts...)
	if err != nil {
		log.Fatalf("failed to create manager: %v", err)
	}
	defer mgr.Close()

	http.Handle("/metrics", promhttp.Handler())

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sess, err := mgr.Get(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		count := 0
		if err := sess.Decode("count", &count); err != nil && !errors.Is(err, sessionstore.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		count++
		if err := sess.Encode("count", count); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := mgr.Save(w, r, sess); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fmt.Fprintf(w, "Hello! You have visited this page %d times.", count)
	})

	http.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		sess, err := mgr.Get(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		// New privilege level, new id.
		sess.Renew()
		sess.SetLongterm(r.URL.Query().Get("remember") == "1")
		sess.SetStorable(true)
		if err := mgr.Save(w, r, sess); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "Logged in!")
	})

	http.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		sess, err := mgr.Get(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		if err := mgr.Destroy(w, r, sess); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fmt.Fprint(w, "Logged out!")
	})

	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		n, err := mgr.Count(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "%d sessions", n)
	})

	logger.Info("server starting", slog.String("addr", ":8080"))
	log.Fatal(http.ListenAndServe(":8080", nil))
}
