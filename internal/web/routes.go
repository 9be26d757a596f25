package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unilearn/faceid/internal/web/handlers"
	"github.com/unilearn/faceid/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	authHandler := handlers.NewAuthHandler(s.config, s.sessionManager, s.store, s.index, s.logger)
	faceHandler := handlers.NewFaceHandler(s.config, s.sessionManager, s.store, s.index, s.logger)

	// Health check (no auth required).
	s.router.Get("/api/health", handlers.HealthCheck)

	// Auth routes.
	s.router.Post("/api/auth/login", authHandler.Login)
	s.router.Post("/api/auth/logout", authHandler.Logout)
	s.router.Get("/api/auth/status", authHandler.Status)
	s.router.Post("/api/auth/face-login", authHandler.FaceLogin)

	// Face routes require authentication. The gate middleware keeps the verify
	// surface reachable while everything else redirects.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.sessionManager))

		r.Get("/face-enroll", faceHandler.EnrollPage)
		r.Post("/api/face/enroll", faceHandler.Enroll)

		r.Get("/face-verify", faceHandler.VerifyPage)
		r.Post("/api/face/verify", faceHandler.Verify)
		r.Post("/face-verify/skip", faceHandler.Skip)

		r.Post("/api/face/disable", faceHandler.Disable)
		r.Get("/api/face/audit", faceHandler.Audit)
	})

	// Everything else is application surface; a placeholder responds until a
	// frontend is deployed in front of this API.
	s.router.Get("/*", s.servePlaceholder)
}

func (s *Server) servePlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Face ID</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #1a1a2e; color: #eee; }
        .container { text-align: center; }
        h1 { color: #00d9ff; }
        p { color: #aaa; }
        a { color: #00d9ff; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Face ID Service</h1>
        <p>API is available at <a href="/api/health">/api/health</a></p>
    </div>
</body>
</html>`))
}
