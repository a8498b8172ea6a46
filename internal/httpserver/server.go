package httpserver

import (
	"time"

	"github.com/gorilla/mux"
)

type Server struct {
	Mux *mux.Router
}

// New builds the router with the liveness probe pre-mounted; readiness is
// wired by the caller once its dependencies exist.
func New() *Server {
	m := mux.NewRouter()
	m.HandleFunc("/healthz", Healthz())
	return &Server{Mux: m}
}

func (s *Server) MountReadyz(timeout time.Duration, checks ...ReadyzCheck) {
	s.Mux.HandleFunc("/readyz", Readyz(timeout, checks...))
}
