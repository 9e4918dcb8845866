// Package admin exposes a small HTTP control surface for a headless peer.
// Handlers hop onto the simulation goroutine with Orchestrator.Do.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"homerun/pkg/ball"
	"homerun/pkg/match"
	"homerun/pkg/orchestrator"
	"homerun/pkg/peers"
	"homerun/pkg/physics"
)

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	// Peers, when set, serves GET /peers.
	Peers *peers.Store
	Log   *zap.Logger
}

func SetupRoutes(opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	a := &api{o: opts.Orchestrator, peers: opts.Peers, log: opts.Log}
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/match", a.status)
	r.Post("/match/player/{type}", a.setPlayer)
	r.Post("/match/play", a.playOnline)
	r.Post("/match/local", a.playLocal)
	r.Post("/match/end", a.endMatch)
	r.Post("/match/dismiss", a.dismiss)
	r.Get("/balls", a.balls)
	r.Post("/balls/throw", a.throw)
	r.Post("/balls/{id}/hit", a.hit)
	r.Get("/peers", a.listPeers)
	r.Post("/quit", a.quit)
	return r
}

// Serve runs the admin listener until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("admin listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type api struct {
	o     *orchestrator.Orchestrator
	peers *peers.Store
	log   *zap.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, match.ErrInvalidEvent),
		errors.Is(err, orchestrator.ErrNotPlaying),
		errors.Is(err, orchestrator.ErrNotAllowed),
		errors.Is(err, ball.ErrResolved),
		errors.Is(err, ball.ErrRemotePrecedence):
		return http.StatusConflict
	case errors.Is(err, ball.ErrUnknownID):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrOffline), errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// run executes fn on the simulation goroutine and writes its error, if any.
func (a *api) run(w http.ResponseWriter, r *http.Request, fn func() error) bool {
	var err error
	if derr := a.o.Do(r.Context(), func() { err = fn() }); derr != nil {
		err = derr
	}
	if err != nil {
		a.log.Debug("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return false
	}
	return true
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	var s orchestrator.Status
	if a.run(w, r, func() error { s = a.o.Status(); return nil }) {
		writeJSON(w, http.StatusOK, s)
	}
}

func (a *api) setPlayer(w http.ResponseWriter, r *http.Request) {
	t, err := match.ParsePlayerType(chi.URLParam(r, "type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if a.run(w, r, func() error { a.o.SetPlayerType(t); return nil }) {
		writeJSON(w, http.StatusOK, map[string]string{"player_type": t.String()})
	}
}

func (a *api) playOnline(w http.ResponseWriter, r *http.Request) {
	var searching bool
	ok := a.run(w, r, func() error {
		var err error
		// the search outlives this request
		searching, err = a.o.PlayOnlineOrCancel(context.Background())
		return err
	})
	if ok {
		writeJSON(w, http.StatusAccepted, map[string]bool{"searching": searching})
	}
}

func (a *api) playLocal(w http.ResponseWriter, r *http.Request) {
	if a.run(w, r, a.o.PlayLocal) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) endMatch(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = orchestrator.ReasonEnded
	}
	if a.run(w, r, func() error { return a.o.EndMatch(reason) }) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) dismiss(w http.ResponseWriter, r *http.Request) {
	if a.run(w, r, a.o.DismissSummary) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) balls(w http.ResponseWriter, r *http.Request) {
	var out []ball.State
	if a.run(w, r, func() error { out = a.o.Balls(); return nil }) {
		writeJSON(w, http.StatusOK, out)
	}
}

type throwRequest struct {
	Kind     string        `json:"kind"`
	Position physics.Vec3  `json:"position"`
	Velocity physics.Vec3  `json:"velocity"`
	Target   *physics.Vec3 `json:"target,omitempty"`
}

func (a *api) throw(w http.ResponseWriter, r *http.Request) {
	var req throwRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := ball.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var id ball.ID
	ok := a.run(w, r, func() error {
		var err error
		id, err = a.o.ThrowBall(kind, req.Position, req.Velocity, req.Target)
		return err
	})
	if ok {
		writeJSON(w, http.StatusCreated, map[string]ball.ID{"id": id})
	}
}

type hitRequest struct {
	Position physics.Vec3 `json:"position"`
	Velocity physics.Vec3 `json:"velocity"`
}

func (a *api) hit(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid ball id", http.StatusBadRequest)
		return
	}
	var req hitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if a.run(w, r, func() error { return a.o.HitBall(ball.ID(n), req.Position, req.Velocity) }) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) listPeers(w http.ResponseWriter, r *http.Request) {
	if a.peers == nil {
		writeJSON(w, http.StatusOK, []peers.PeerMeta{})
		return
	}
	writeJSON(w, http.StatusOK, a.peers.List())
}

func (a *api) quit(w http.ResponseWriter, r *http.Request) {
	if a.run(w, r, func() error { a.o.QuitButtonPressed(); return nil }) {
		w.WriteHeader(http.StatusAccepted)
	}
}
