package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/registers"
	"github.com/uptop/pkg/scheduler"
)

// Version 首页展示的版本号
var Version = "0.1.0"

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      *config.Config
	logger   *logger.Logger
	server   *http.Server
	registry *prometheus.Registry
	agent    registers.Agent
	router   chi.Router
	routes   []string
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

const defaultShutdownTimeout = 5 * time.Second

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg *config.Config, l *logger.Logger, registry *prometheus.Registry, agent registers.Agent) *Server {
	srv := &Server{
		cfg:      cfg,
		logger:   l,
		registry: registry,
		agent:    agent,
	}
	srv.router = srv.newRouter()

	srv.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return srv
}

// Handler 路由入口，测试直接使用
func (s *Server) Handler() http.Handler { return s.router }

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// newRouter 注册核心路由
func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/collectors", s.listCollectors)
		r.Get("/collectors/{name}", s.getCollector)
		r.Get("/plugins", s.listPlugins)
		r.Get("/snapshot", s.snapshot)
	})

	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		s.routes = append(s.routes, method+" "+route)
		return nil
	})
	return r
}

// sendJSON 输出 JSON 响应
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// sendError 统一错误响应
func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	var links strings.Builder
	for _, route := range s.routes {
		path := strings.TrimPrefix(route, http.MethodGet+" ")
		if path == "/" || strings.Contains(path, "{") {
			continue
		}
		fmt.Fprintf(&links, "\t\t<a href=\"%s\">%s</a>\n", path, path)
	}
	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
	<meta charset="UTF-8">
	<title>uptop</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		a { display: block; margin: 8px 0; font-size: 18px; }
		code { background-color: #f0f0f0; padding: 2px 4px; }
	</style>
</head>
<body>
	<h1>uptop</h1>
	<p>Version: <code>%s</code></p>
	<h2>Endpoints</h2>
%s</body>
</html>
`, Version, links.String())
	_, _ = w.Write([]byte(html))
}

// health 调度器运行且没有陈旧数据源时为 ok
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	sched := s.agent.Scheduler()
	var stale []string
	for _, name := range sched.Collectors() {
		if sched.IsStale(name) {
			stale = append(stale, name)
		}
	}
	status, code := "ok", http.StatusOK
	switch {
	case !sched.IsRunning():
		status, code = "stopped", http.StatusServiceUnavailable
	case len(stale) > 0:
		status = "degraded"
	}
	sendJSON(w, code, map[string]any{
		"status":    status,
		"scheduler": sched.State().String(),
		"stale":     stale,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.agent.Scheduler().Stats())
}

func (s *Server) listCollectors(w http.ResponseWriter, _ *http.Request) {
	sched := s.agent.Scheduler()
	out := make([]scheduler.CollectorStats, 0)
	for _, name := range sched.Collectors() {
		if cs, err := sched.CollectorStats(name); err == nil {
			out = append(out, cs)
		}
	}
	sendJSON(w, http.StatusOK, out)
}

// getCollector 单个数据源的统计与最新一次结果
func (s *Server) getCollector(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sched := s.agent.Scheduler()
	cs, err := sched.CollectorStats(name)
	if errors.Is(err, scheduler.ErrNotRegistered) {
		sendError(w, http.StatusNotFound, fmt.Sprintf("collector %q not found", name))
		return
	}
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"stats": cs}
	if latest, ok := sched.Latest(name); ok {
		resp["latest"] = latest
	}
	sendJSON(w, http.StatusOK, resp)
}

// listPlugins 已注册插件、待加载插件与加载失败的插件
func (s *Server) listPlugins(w http.ResponseWriter, _ *http.Request) {
	reg := s.agent.Registry()
	failed := make(map[string]string)
	for name, err := range reg.FailedPlugins() {
		failed[name] = err.Error()
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"plugins": reg.AllMetadata(),
		"pending": reg.Pending(),
		"failed":  failed,
	})
}

// snapshot 立即采集并用 format 指定的输出插件格式化，默认 json
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	f, err := s.agent.Registry().Formatter(format)
	if err != nil || !f.Enabled() {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}
	var panes []string
	if p := q.Get("panes"); p != "" {
		panes = strings.Split(p, ",")
	}

	snap, err := s.agent.Snapshot(r.Context(), panes...)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := f.Format(snap)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == "json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// Start 启动HTTP服务（非阻塞），端口被占用时立即返回错误
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	s.logger.Info(
		"starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("routes", s.routes),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded")
			return nil
		}
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shutdown successfully")
	return nil
}
