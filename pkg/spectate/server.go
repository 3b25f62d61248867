// Package spectate exposes a node over HTTP: JSON endpoints for the
// presentation operations and a websocket that streams CBOR snapshots.
package spectate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cfoust/snek/pkg/discovery"
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/node"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/utils"
	"github.com/cfoust/snek/pkg/world"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/log"
)

// Node is the part of *node.Node the bridge drives.
type Node interface {
	ListKnownGames() []discovery.GameInfo
	CurrentSnapshot() (world.GameState, bool)
	SubmitDirection(d geom.Direction) error
	CreateGame(config world.GameConfig) error
	JoinGame(ctx context.Context, addr string) error
	ExitGame()
	Subscribe() *utils.Subscriber[world.GameState]
	Role() role.ID
	PlayerID() int32
}

type Server struct {
	node     Node
	defaults world.GameConfig
	// How long POST /join waits for the master.
	joinTimeout time.Duration
	router      chi.Router
}

type StateResponse struct {
	Role     string          `json:"role"`
	PlayerID int32           `json:"playerId"`
	State    world.GameState `json:"state"`
}

type SteerRequest struct {
	Direction string `json:"direction"`
}

type JoinRequest struct {
	Addr string `json:"addr"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the router. CreateGame requests start from defaults and
// override whatever the body sets.
func NewServer(n Node, defaults world.GameConfig) *Server {
	s := &Server{
		node:        n,
		defaults:    defaults,
		joinTimeout: 10 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/games", s.handleGames)
	r.Get("/state", s.handleState)
	r.Post("/steer", s.handleSteer)
	r.Post("/create", s.handleCreate)
	r.Post("/join", s.handleJoin)
	r.Post("/exit", s.handleExit)
	r.Get("/ws", s.handleStream)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:    address,
		Handler: s,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	log.Info().Str("address", address).Msg("spectator listening")
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrInvalidConfig),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, node.ErrUnknownGame):
		status = http.StatusNotFound
	case errors.Is(err, node.ErrInGame),
		errors.Is(err, node.ErrNotInGame),
		errors.Is(err, node.ErrJoinRejected):
		status = http.StatusConflict
	case errors.Is(err, node.ErrJoinTimeout),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, value any) error {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games := s.node.ListKnownGames()
	if games == nil {
		games = []discovery.GameInfo{}
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, ok := s.node.CurrentSnapshot()
	if !ok {
		writeError(w, node.ErrNotInGame)
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		Role:     s.node.Role().String(),
		PlayerID: s.node.PlayerID(),
		State:    state,
	})
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	var request SteerRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}

	direction := geom.ParseDirection(request.Direction)
	if !direction.Valid() {
		writeError(w, errors.Join(errBadRequest, errors.New("unknown direction "+request.Direction)))
		return
	}

	if err := s.node.SubmitDirection(direction); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	config := s.defaults
	if r.ContentLength != 0 {
		if err := decodeBody(r, &config); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.node.CreateGame(config); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var request JoinRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.joinTimeout)
	defer cancel()

	if err := s.node.JoinGame(ctx, request.Addr); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	s.node.ExitGame()
	w.WriteHeader(http.StatusNoContent)
}
