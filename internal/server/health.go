package server

import "net/http"

// Pre-allocated probe bodies; avoids a JSON encode per probe (see
// respond.go:jsonCT for the header slice trick).
var (
	healthyBody     = []byte("{\"status\":\"healthy\"}\n")
	readyBody       = []byte("{\"status\":\"ready\"}\n")
	unavailableBody = []byte("{\"status\":\"unavailable\"}\n")
)

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(healthyBody)
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(unavailableBody)
			return
		}
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(readyBody)
}
