package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/rand"

	"github.com/attnmt/attnmt/api"
	"github.com/attnmt/attnmt/ensemble"
	"github.com/attnmt/attnmt/envconfig"
	"github.com/attnmt/attnmt/metrics"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/types/errtypes"
)

// Server decodes with one loaded ensemble. Requests are served one at a
// time since members keep per-sentence state.
type Server struct {
	mu       sync.Mutex
	set      *model.Set
	adapters []model.Adapter
	cfg      ensemble.Config
	backend  ml.Backend
	logger   *slog.Logger
}

func New(set *model.Set, cfg ensemble.Config, backend ml.Backend, logger *slog.Logger) (*Server, error) {
	adapters, err := set.Adapters()
	if err != nil {
		return nil, err
	}

	// fail on a bad configuration now rather than on the first request
	if _, err := ensemble.New(adapters, cfg, logger); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Server{set: set, adapters: adapters, cfg: cfg, backend: backend, logger: logger}, nil
}

func (s *Server) config(opts map[string]any) (ensemble.Config, api.Options, error) {
	var o api.Options
	if err := o.FromMap(opts); err != nil {
		return ensemble.Config{}, o, err
	}

	cfg := s.cfg
	if o.Beam > 0 {
		cfg.BeamSize = o.Beam
	}
	if o.SizeLimit > 0 {
		cfg.SizeLimit = o.SizeLimit
	}
	if o.WordPen != nil {
		cfg.WordPen = *o.WordPen
	}
	if o.EnsembleOp != "" {
		op, err := ensemble.ParseOp(o.EnsembleOp)
		if err != nil {
			return ensemble.Config{}, o, err
		}
		cfg.Op = op
	}
	return cfg, o, nil
}

// run binds a fresh ensemble to a new context and calls fn with it.
func (s *Server) run(opts map[string]any, fn func(ml.Context, *ensemble.Decoder, api.Options) error) (int, error) {
	cfg, o, err := s.config(opts)
	if err != nil {
		return http.StatusBadRequest, err
	}

	dec, err := ensemble.New(s.adapters, cfg, s.logger)
	if err != nil {
		return http.StatusBadRequest, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.backend.NewContext()
	defer ctx.Close()

	dec.Bind(ctx)
	if err := fn(ctx, dec, o); err != nil {
		return statusFor(err), err
	}
	return http.StatusOK, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errtypes.ErrOversized),
		errors.Is(err, errtypes.ErrShapeMismatch),
		errors.Is(err, errtypes.ErrInvalidSpec):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) response(source string, r *ensemble.Result) api.GenerateResponse {
	return api.GenerateResponse{
		Source:    source,
		Target:    s.set.Target.String(r.Sentence),
		Alignment: r.Alignment,
		Score:     r.Score,
		LogProb:   r.LogProb,
	}
}

func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	src := s.set.ParseSource(req.Source)

	var resp api.GenerateResponse
	start := time.Now()
	status, err := s.run(req.Options, func(ctx ml.Context, dec *ensemble.Decoder, _ api.Options) error {
		r, err := dec.Generate(ctx, src)
		if err != nil {
			return err
		}
		resp = s.response(req.Source, r)
		return nil
	})
	metrics.Observe("generate", start, len(resp.Alignment), err)
	if err != nil {
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ScoreHandler(c *gin.Context) {
	var req api.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	src, trg := s.set.ParseSource(req.Source), s.set.ParseTarget(req.Target)

	var stats ensemble.LLStats
	start := time.Now()
	status, err := s.run(req.Options, func(ctx ml.Context, dec *ensemble.Decoder, _ api.Options) error {
		var err error
		stats, err = dec.CalcSentLL(ctx, src, trg)
		return err
	})
	metrics.Observe("score", start, stats.Words, err)
	if err != nil {
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.ScoreResponse{
		LogLik:     stats.LogLik,
		Words:      stats.Words,
		Unks:       stats.Unks,
		Perplexity: math.Exp(-stats.LogLik / float64(stats.Words)),
	})
}

func (s *Server) SampleHandler(c *gin.Context) {
	var req api.SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	src := s.set.ParseSource(req.Source)

	var resp api.SampleResponse
	start := time.Now()
	status, err := s.run(req.Options, func(ctx ml.Context, dec *ensemble.Decoder, o api.Options) error {
		n := max(o.Samples, 1)
		seed := o.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		results, err := dec.Sample(ctx, src, n, rand.NewSource(uint64(seed)))
		if err != nil {
			return err
		}
		for _, r := range results {
			resp.Samples = append(resp.Samples, s.response(req.Source, r))
		}
		return nil
	})
	metrics.Observe("sample", start, len(resp.Samples), err)
	if err != nil {
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ShowHandler(c *gin.Context) {
	var resp api.ShowResponse
	for i, f := range s.set.Files {
		resp.Models = append(resp.Models, api.ModelInfo{
			Path:       s.set.Paths[i],
			Kind:       string(f.Kind),
			Parameters: f.Params.Len(),
			Values:     f.Params.Count(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowOrigins = envconfig.AllowOrigins

	r := gin.Default()
	r.Use(cors.New(config))

	r.POST("/api/generate", s.GenerateHandler)
	r.POST("/api/score", s.ScoreHandler)
	r.POST("/api/sample", s.SampleHandler)
	r.GET("/api/show", s.ShowHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Handle(method, "/", func(c *gin.Context) {
			c.String(http.StatusOK, "attnmt is running")
		})
	}

	return r
}

// Serve serves s on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, s *Server) error {
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdown); err != nil {
			s.logger.Error("shutdown", "error", err)
		}
	}()

	s.logger.Info("server config", "env", envconfig.Values())
	s.logger.Info(fmt.Sprintf("Listening on %s", ln.Addr()), "models", len(s.adapters))
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
