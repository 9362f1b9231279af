package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dualhedge/internal/model"
	"dualhedge/internal/risk"
)

// StateProvider returns a read-only snapshot of every configured instrument's state,
// taken under whatever locking the caller (the lifecycle controller) uses to guard it.
type StateProvider func() map[string]*model.SymbolState

// Server wires the admin HTTP surface: liveness, per-instrument state, recent alerts.
type Server struct {
	Router    *gin.Engine
	states    StateProvider
	risk      *risk.Manager
	jwtSecret string
	startedAt time.Time
}

// NewServer builds the admin API. jwtSecret guards /state and /alerts/recent;
// /healthz is always open (liveness probes shouldn't need a credential).
func NewServer(states StateProvider, riskMgr *risk.Manager, jwtSecret string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{Router: r, states: states, risk: riskMgr, jwtSecret: jwtSecret, startedAt: time.Now()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.healthz)

	protected := s.Router.Group("")
	protected.Use(AuthMiddleware(s.jwtSecret))
	{
		protected.GET("/state", s.getState)
		protected.GET("/alerts/recent", s.getRecentAlerts)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_sec": int(time.Since(s.startedAt).Seconds())})
}

// Start runs the HTTP server on addr; a blocking call, intended to run in its own
// goroutine from the lifecycle controller.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
