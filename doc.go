/*
Package sessionstore provides server-side session management for Go web applications.

Sessions are addressed by a random id carried in a cookie. The Manager keeps
active sessions in a sharded in-memory cache and, unless configured as
memory-only, writes them through to one durable Backend: PostgreSQL (lib/pq or
a pgx pool), SQLite (CGO-free), Redis, Memcached or MongoDB.

Key Features:

  - Pluggable backends behind the Backend interface, chosen once at construction.
  - Cookie integrity: plain, HMAC-signed or XChaCha20-Poly1305 encrypted
    cookies, with key rotation.
  - Per-session locking: concurrent requests on one session merge their
    changes instead of overwriting each other.
  - Dirty tracking: only modified sessions are written back.
  - Session id renewal that fails closed, long-term ("remember me") lifetimes,
    and an opt-in mode that only persists sessions the client agreed to store.
  - A background sweeper removing expired sessions from memory and backend.
  - Structured logging through log/slog and Prometheus metrics.

Usage:

	store, err := sessionstore.NewSQLiteStore("sessions.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	cfg, err := sessionstore.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	mgr, err := sessionstore.NewManager(cfg, sessionstore.WithBackend(store))
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.Close()

	http.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		sess, err := mgr.Get(r)
		if err != nil {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		sess.Renew()
		if err := sess.Encode("user_id", 42); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := mgr.Save(w, r, sess); err != nil {
			http.Error(w, "Failed to save session", http.StatusInternalServerError)
		}
	})

Thread Safety:

The Manager and the Backend implementations are safe for concurrent use. A
Handle belongs to one request; it may be shared by that request's goroutines.
*/
package sessionstore
