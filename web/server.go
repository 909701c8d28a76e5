package web

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jnb666/cifarnet/img"
	"github.com/jnb666/cifarnet/nnet"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
)

const (
	plotWidth  = 600
	plotHeight = 400
)

// Server displays the training history charts, the network summary and an optional gallery
// of test images with their predicted classes.
type Server struct {
	*Templates
	Heading   string
	History   nnet.History
	Summary   string
	MaxImages int
	data      *img.Data
	pred      []int32
}

// Create a new chart viewer for the given training history.
func NewServer(heading string, hist nnet.History, summary string) (*Server, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "error parsing templates")
	}
	return &Server{Templates: t, Heading: heading, History: hist, Summary: summary, MaxImages: 100}, nil
}

// AddImages adds a gallery of images from data. pred holds the predicted class for the leading
// images and may be shorter than the data or nil.
func (s *Server) AddImages(data *img.Data, pred []int32) *Server {
	s.data, s.pred = data, pred
	return s
}

// Router returns the request handler
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.indexHandler)
	r.HandleFunc("/plot/{name:(?:accuracy|loss)}.svg", s.plotHandler)
	r.HandleFunc("/img/{id:[0-9]+}", s.imageHandler)
	return r
}

// Serve listens on addr until the context is cancelled, then shuts down cleanly.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	slog.Info("serving charts", "url", "http://localhost"+addr)
	select {
	case err := <-errc:
		return errors.Wrap(err, "chart viewer")
	case <-ctx.Done():
	}
	slog.Info("shutting down chart viewer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "chart viewer shutdown")
}

// LatestStats returns up to n stats entries, most recent first
func (s *Server) LatestStats(n int) []nnet.Stats {
	last := len(s.History) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, s.History[i])
	}
	return res
}

func (s *Server) RunTime() string {
	if len(s.History) == 0 {
		return ""
	}
	elapsed := s.History[len(s.History)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.Exec(w, "index", s)
}

func (s *Server) plotHandler(w http.ResponseWriter, r *http.Request) {
	var p *plot.Plot
	var err error
	switch mux.Vars(r)["name"] {
	case "accuracy":
		p, err = AccuracyPlot(s.History)
	case "loss":
		p, err = LossPlot(s.History)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logError(w, err)
		return
	}
	var buf bytes.Buffer
	if err = WriteSVG(&buf, p, plotWidth, plotHeight); err != nil {
		logError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(buf.Bytes())
}
