package handler

import (
	"database/sql"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docvault/docs"
	"docvault/internal/http/middleware"
	"docvault/internal/service"
)

// Services groups what the routes call into. DB may be nil.
type Services struct {
	DB        *sql.DB
	Documents service.DocumentService
	Vault     service.VaultService
	Gatherer  prometheus.Gatherer
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, s Services) {
	app.Get("/health", HealthCheck(s.DB))
	app.Get("/healthz", Liveness())

	if s.Gatherer != nil {
		app.Get(middleware.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}
	app.Get("/swagger/*", swaggerUI)

	app.Get("/documents", ListDocuments(s.Documents))
	app.Post("/documents", UploadDocument(s.Documents))
	app.Post("/documents/batch", BatchUploadDocuments(s.Documents))
	app.Get("/documents/:id", GetDocument(s.Documents))
	app.Get("/documents/:id/content", GetDocumentContent(s.Documents))
	app.Delete("/documents/:id", DeleteDocument(s.Documents))

	app.Get("/sync/status", SyncStatus(s.Documents))
	app.Post("/sync/:id/:backend/requeue", RequeueSyncItem(s.Documents))

	v := app.Group("/vault")
	v.Get("/documents/:id/lock", GetLockStatus(s.Vault))
	v.Post("/documents/:id/lock", LockDocument(s.Vault))
	v.Post("/documents/:id/unlock", UnlockDocument(s.Vault))
	v.Post("/documents/:id/verify", VerifyDocument(s.Vault))
	v.Get("/documents/:id/activity", DocumentActivity(s.Vault))
	v.Post("/transactions/:id/lock-all", LockTransaction(s.Vault))
	v.Post("/transactions/:id/status", TransactionStatus(s.Vault))
}

// swaggerUI serves the UI with the host and scheme the caller used.
func swaggerUI(c *fiber.Ctx) error {
	scheme := c.Protocol()
	if proto := c.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	docs.SwaggerInfo.Host = c.Get("Host")
	docs.SwaggerInfo.Schemes = []string{scheme}

	return swagger.HandlerDefault(c)
}
