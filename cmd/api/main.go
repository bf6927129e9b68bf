package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	r "github.com/redis/go-redis/v9"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/config"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/logging"
	"github.com/you/actionq/internal/migration"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schedule"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

type api struct {
	store      store.Store
	log        *zap.Logger
	claimBatch int
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	defer log.Sync()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	book := logbook.NewDB(db)
	notifier := notify.Multi{notify.NewZap(log), logbook.NewRecorder(book)}
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		notifier = append(notifier, notify.NewRedis(rdb, cfg.NotifyChannel, log))
	}

	primary := store.NewPostgres(db, notifier)

	// Serve through the hybrid facade until the migration flag says the
	// legacy store is drained.
	var st store.Store = primary
	status, err := primary.LoadMigrationStatus(context.Background())
	if err != nil {
		log.Fatal("load migration flag", zap.Error(err))
	}
	if status != migration.StatusComplete {
		legacy := store.NewLegacy(db)
		runner, err := migration.NewRunner(migration.NewConfig().
			SetSourceStore(legacy).
			SetDestinationStore(primary).
			SetSourceBook(logbook.NewLegacyDB(db)).
			SetDestinationBook(book).
			SetNotifier(notifier).
			SetLogger(log))
		if err != nil {
			log.Fatal("build migration runner", zap.Error(err))
		}
		st = store.NewHybrid(primary, legacy, runner)
	}

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open health pool", zap.Error(err))
	}
	defer pool.Close()

	a := &api{store: st, log: log, claimBatch: cfg.ClaimBatchSize}

	rtr := chi.NewRouter()
	rtr.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rtr.Post("/v1/actions", a.save)
	rtr.Get("/v1/actions", a.query)
	rtr.Get("/v1/actions/{id}", a.fetch)
	rtr.Get("/v1/actions/{id}/status", a.status)
	rtr.Post("/v1/actions/{id}/cancel", a.cancel)
	rtr.Delete("/v1/actions/{id}", a.delete)
	rtr.Post("/v1/claims", a.stakeClaim)
	rtr.Post("/v1/claims/{id}/release", a.releaseClaim)

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

type saveRequest struct {
	Hook     string          `json:"hook"`
	Args     json.RawMessage `json:"args"`
	Group    string          `json:"group"`
	Schedule json.RawMessage `json:"schedule"`
	Date     *time.Time      `json:"date"`
}

func (a *api) save(w http.ResponseWriter, req *http.Request) {
	var body saveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Hook == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	act := action.New(body.Hook, body.Args, schedule.Unmarshal(string(body.Schedule)), body.Group)
	id, err := a.store.Save(req.Context(), act, body.Date)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSchedule) {
			http.Error(w, "invalid schedule", http.StatusBadRequest)
			return
		}
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"action_id": id})
}

func (a *api) fetch(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	act, err := a.store.Fetch(req.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if act.IsNull() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hook":     act.Hook,
		"args":     act.Args,
		"group":    act.Group,
		"finished": act.IsFinished(),
	})
}

func (a *api) query(w http.ResponseWriter, req *http.Request) {
	q := store.Query{
		Hook:   req.URL.Query().Get("hook"),
		Group:  req.URL.Query().Get("group"),
		Status: action.Status(req.URL.Query().Get("status")),
	}
	q.Limit, _ = strconv.Atoi(req.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(req.URL.Query().Get("offset"))
	ids, err := a.store.Query(req.Context(), q)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"action_ids": ids})
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	st, err := a.store.Status(req.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUnknownAction) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(st)})
}

func (a *api) cancel(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	if err := a.store.Cancel(req.Context(), id); err != nil {
		if errors.Is(err, store.ErrUnknownAction) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) delete(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	if err := a.store.Delete(req.Context(), id); err != nil {
		if errors.Is(err, store.ErrUnknownAction) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) stakeClaim(w http.ResponseWriter, req *http.Request) {
	var body struct {
		MaxActions int `json:"max_actions"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if body.MaxActions <= 0 {
		body.MaxActions = a.claimBatch
	}
	claim, err := a.store.StakeClaim(req.Context(), body.MaxActions, time.Time{})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"claim_id":   claim.ID,
		"action_ids": claim.ActionIDs,
	})
}

func (a *api) releaseClaim(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	if err := a.store.ReleaseClaim(req.Context(), &action.Claim{ID: id}); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	a.log.Error("request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
