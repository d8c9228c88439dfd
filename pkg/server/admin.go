package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/master"
)

// Status is the server summary served on /status.
type Status struct {
	Name       string      `json:"name"`
	Addr       string      `json:"addr"`
	Map        string      `json:"map"`
	Frame      int32       `json:"frame"`
	TickRate   int         `json:"tickRate"`
	Clients    int         `json:"clients"`
	MaxClients int         `json:"maxClients"`
	Uptime     string      `json:"uptime"`
	Queue      QueueStatus `json:"queue"`
}

// QueueStatus describes the ingress queue.
type QueueStatus struct {
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

// publish copies the tick goroutine's view of the server for readers on
// other goroutines.
func (s *Server) publish(now time.Time) {
	infos := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		if c != nil {
			infos = append(infos, c.info(now))
		}
	}
	st := Status{
		Name:       s.cfg.Name,
		Addr:       s.Addr().String(),
		Map:        s.cfg.LevelName,
		Frame:      s.frame,
		TickRate:   s.cfg.TickRate,
		Clients:    len(infos),
		MaxClients: s.cfg.MaxClients,
		Uptime:     now.Sub(s.started).Truncate(time.Second).String(),
		Queue: QueueStatus{
			Len:     s.queue.Len(),
			Cap:     s.queue.Cap(),
			Dropped: s.queue.Dropped(),
		},
	}

	s.mu.Lock()
	s.status = st
	s.infos = infos
	s.mu.Unlock()
	s.metrics.SetClients(len(infos))
}

// Status returns the summary as of the last tick. It is safe to call from
// any goroutine.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Clients returns the connected clients as of the last tick. It is safe to
// call from any goroutine.
func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClientInfo, len(s.infos))
	copy(out, s.infos)
	return out
}

func (s *Server) masterStatus() master.Status {
	st := s.Status()
	return master.Status{
		Name:       st.Name,
		Addr:       st.Addr,
		Players:    st.Clients,
		MaxPlayers: st.MaxClients,
		Map:        st.Map,
	}
}

// Router returns the admin HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Status())
	})
	r.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Clients())
	})
	r.Post("/level", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing level name", http.StatusBadRequest)
			return
		}
		s.ChangeLevel(name)
		w.WriteHeader(http.StatusAccepted)
	})
	if s.ws != nil {
		r.Handle("/ws", s.ws.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ServeAdmin serves Router on addr until ctx is cancelled.
func (s *Server) ServeAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return neterrors.New("E062").WithSubject(addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("admin listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return neterrors.New("E062").WithSubject(addr).Wrap(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return neterrors.New("E062").WithSubject(addr).Wrap(err)
		}
		return nil
	}
}
