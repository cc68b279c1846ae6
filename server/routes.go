package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/envconfig"
	"github.com/ollama/replagent/history"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/store"
	"github.com/ollama/replagent/turn"
)

type Server struct {
	store   store.Store
	opts    history.Options
	metrics *metrics

	// serializes read-modify-write of stored sessions
	mu sync.Mutex
}

// NewServer returns a server keeping sessions in st. opts are the flatten
// defaults; requests may override them.
func NewServer(st store.Store, opts history.Options) *Server {
	if opts.Markup.Language == "" {
		opts.Markup = turn.DefaultMarkup
	}

	return &Server{store: st, opts: opts, metrics: newMetrics()}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowBrowserExtensions = true
	config.AllowOrigins = corsOrigins(envconfig.AllowedOrigins())
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		cors.New(config),
		s.metrics.observe,
	)

	r.HandleMethodNotAllowed = true

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "replagent is running") })
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "replagent is running") })
	r.GET("/metrics", gin.WrapH(s.metrics.handler()))

	r.POST("/api/parse", s.ParseHandler)
	r.POST("/api/flatten", s.FlattenHandler)

	r.GET("/api/sessions", s.ListHandler)
	r.POST("/api/sessions", s.CreateHandler)
	r.GET("/api/sessions/:id", s.GetHandler)
	r.DELETE("/api/sessions/:id", s.DeleteHandler)
	r.GET("/api/sessions/:id/xml", s.XMLHandler)
	r.GET("/api/sessions/:id/messages", s.MessagesHandler)
	r.POST("/api/sessions/:id/events", s.AppendHandler)
	r.POST("/api/sessions/:id/resume", s.ResumeHandler)

	return r
}

// corsOrigins keeps the origins the cors middleware accepts.
func corsOrigins(origins []string) []string {
	var kept []string
	for _, o := range origins {
		switch {
		case o == "*",
			strings.HasPrefix(o, "http://"),
			strings.HasPrefix(o, "https://"),
			strings.HasPrefix(o, "chrome-extension://"),
			strings.HasPrefix(o, "safari-extension://"),
			strings.HasPrefix(o, "moz-extension://"),
			strings.HasPrefix(o, "ms-browser-extension://"):
			kept = append(kept, o)
		default:
			slog.Warn("ignoring unsupported origin", "origin", o)
		}
	}
	return kept
}

// Serve answers requests on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, s *Server) error {
	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
	}()

	slog.Info("Listening on " + ln.Addr().String())
	err := srvr.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}

func (s *Server) ParseHandler(c *gin.Context) {
	var req api.ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	bodies, err := turn.Parse(req.Text)
	s.metrics.parses.WithLabelValues(result(err)).Inc()
	if err != nil {
		var perr *turn.ParseError
		if errors.As(err, &perr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: perr.Err.Error(), Text: perr.Text})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	events := make([]api.Event, len(bodies))
	for i, body := range bodies {
		events[i] = api.EventFrom(session.Event{Body: body})
	}

	c.JSON(http.StatusOK, api.ParseResponse{Events: events})
}

func (s *Server) FlattenHandler(c *gin.Context) {
	var req api.FlattenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	sess, err := decodeSession(req.Events, req.XML)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	opts := s.opts
	switch {
	case req.NoSystem:
		opts.System = ""
	case req.System != "":
		opts.System = req.System
	}
	if req.Language != "" {
		opts.Markup = turn.Markup{Language: req.Language}
	}

	s.flatten(c, sess, opts)
}

func (s *Server) flatten(c *gin.Context, sess *session.Session, opts history.Options) {
	msgs, err := history.Flatten(sess, opts)
	s.metrics.flattens.WithLabelValues(result(err)).Inc()
	if err != nil {
		var verr *history.ValidationError
		if errors.As(err, &verr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error(), Text: verr.Message.Content})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	if msgs == nil {
		msgs = []api.Message{}
	}
	c.JSON(http.StatusOK, api.FlattenResponse{Messages: msgs})
}

// decodeSession reads a session from the XML event tree, or from wire
// events when xml is empty.
func decodeSession(events []api.Event, xml string) (*session.Session, error) {
	if xml != "" {
		return session.Unmarshal([]byte(xml))
	}
	return api.NewSession(events)
}

func (s *Server) ListHandler(c *gin.Context) {
	infos, err := s.store.List(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}

	sessions := make([]api.SessionInfo, len(infos))
	for i, info := range infos {
		sessions[i] = api.SessionInfo{
			ID:         info.ID,
			Events:     info.Events,
			CreatedAt:  info.CreatedAt,
			ModifiedAt: info.ModifiedAt,
		}
	}

	c.JSON(http.StatusOK, api.ListResponse{Sessions: sessions})
}

func (s *Server) CreateHandler(c *gin.Context) {
	var req api.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	sess, err := decodeSession(req.Events, req.XML)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	id, err := s.store.Create(c.Request.Context(), sess)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}

	for _, e := range sess.Events {
		s.metrics.appended.WithLabelValues(api.EventFrom(e).Type).Inc()
	}

	slog.Info("created session", "id", id, "events", len(sess.Events))
	c.JSON(http.StatusCreated, sessionResponse(id, sess))
}

func sessionResponse(id string, sess *session.Session) api.SessionResponse {
	return api.SessionResponse{ID: id, Events: api.EventsFrom(sess.Events)}
}

// load writes the error response itself when it fails.
func (s *Server) load(c *gin.Context) (string, *session.Session, bool) {
	id := c.Param("id")
	sess, err := s.store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Message: fmt.Sprintf("session '%s' not found", id)})
		return "", nil, false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return "", nil, false
	}

	return id, sess, true
}

func (s *Server) GetHandler(c *gin.Context) {
	id, sess, ok := s.load(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, sessionResponse(id, sess))
}

func (s *Server) DeleteHandler(c *gin.Context) {
	id := c.Param("id")
	err := s.store.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Message: fmt.Sprintf("session '%s' not found", id)})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
	default:
		slog.Info("deleted session", "id", id)
		c.Status(http.StatusOK)
	}
}

func (s *Server) XMLHandler(c *gin.Context) {
	_, sess, ok := s.load(c)
	if !ok {
		return
	}

	bts, err := session.Marshal(sess)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/xml; charset=utf-8", bts)
}

func (s *Server) MessagesHandler(c *gin.Context) {
	_, sess, ok := s.load(c)
	if !ok {
		return
	}

	s.flatten(c, sess, s.opts)
}

func (s *Server) AppendHandler(c *gin.Context) {
	var req api.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, sess, ok := s.load(c)
	if !ok {
		return
	}

	for _, e := range req.Events {
		body, err := e.Body()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
			return
		}

		if _, err := sess.Append(e.ID, body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
			return
		}
	}

	if err := s.store.Put(c.Request.Context(), id, sess); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}

	for _, e := range req.Events {
		s.metrics.appended.WithLabelValues(e.Type).Inc()
	}

	c.JSON(http.StatusOK, sessionResponse(id, sess))
}

// ResumeHandler appends a resume_from event and applies it, which drops
// every event after the target.
func (s *Server) ResumeHandler(c *gin.Context) {
	var req api.ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: err.Error()})
		return
	}

	if req.EventID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Message: "event_id is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, sess, ok := s.load(c)
	if !ok {
		return
	}

	if sess.Index(req.EventID) < 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Message: fmt.Sprintf("event '%s' not found", req.EventID)})
		return
	}

	if _, err := sess.Append("", session.ResumeFrom{TargetEventID: req.EventID}); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}
	sess.Resume()

	if err := s.store.Put(c.Request.Context(), id, sess); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Message: err.Error()})
		return
	}

	s.metrics.appended.WithLabelValues(api.EventResumeFrom).Inc()
	slog.Info("resumed session", "id", id, "target", req.EventID, "events", len(sess.Events))
	c.JSON(http.StatusOK, sessionResponse(id, sess))
}
