package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hourbill/hourbill/internal/auth"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/auth/session"
	"github.com/hourbill/hourbill/internal/clock"
	"github.com/hourbill/hourbill/internal/config"
	"github.com/hourbill/hourbill/internal/directory"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	"github.com/hourbill/hourbill/internal/events"
	"github.com/hourbill/hourbill/internal/invoice"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	"github.com/hourbill/hourbill/internal/observability"
	obsmiddleware "github.com/hourbill/hourbill/internal/observability/logger"
	obsmetrics "github.com/hourbill/hourbill/internal/observability/metrics"
	obstracing "github.com/hourbill/hourbill/internal/observability/tracing"
	"github.com/hourbill/hourbill/internal/providers/pdf"
	"github.com/hourbill/hourbill/internal/resource"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	"github.com/hourbill/hourbill/internal/timeentry"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	auth.Module,
	directory.Module,
	resource.Module,
	events.Module,
	pdf.Module,
	timeentry.Module,
	invoice.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	authsvc      authdomain.Service
	sessions     *session.Manager
	genID        *snowflake.Node
	clock        clock.Clock
	directorySvc directorydomain.Service
	entrySvc     timeentrydomain.Service
	invoiceSvc   invoicedomain.Service
	resourceSvc  resourcedomain.Store
	hub          *events.Hub
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Authsvc      authdomain.Service
	Sessions     *session.Manager
	GenID        *snowflake.Node
	Clock        clock.Clock
	DirectorySvc directorydomain.Service
	EntrySvc     timeentrydomain.Service
	InvoiceSvc   invoicedomain.Service
	ResourceSvc  resourcedomain.Store
	Hub          *events.Hub
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		authsvc:      p.Authsvc,
		sessions:     p.Sessions,
		genID:        p.GenID,
		clock:        p.Clock,
		directorySvc: p.DirectorySvc,
		entrySvc:     p.EntrySvc,
		invoiceSvc:   p.InvoiceSvc,
		resourceSvc:  p.ResourceSvc,
		hub:          p.Hub,
	}

	svc.registerAuthRoutes()
	svc.registerAdminRoutes()
	svc.registerPortalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.Me)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.StaffRequired())

	admin.GET("/clients", s.ListClients)
	admin.POST("/clients", s.CreateClient)
	admin.GET("/clients/:id", s.GetClientByID)
	admin.GET("/clients/:id/projects", s.ListProjects)
	admin.POST("/clients/:id/projects", s.CreateProject)

	admin.GET("/entries", s.ListEntries)
	admin.POST("/entries", s.CreateEntry)
	admin.GET("/entries/:id", s.GetEntryByID)
	admin.PATCH("/entries/:id", s.UpdateEntry)
	admin.DELETE("/entries/:id", s.DeleteEntry)
	admin.GET("/entries/:id/resources", s.ListEntryResources)
	admin.POST("/entries/:id/resources", s.AttachEntryResource)
	admin.DELETE("/entries/:id/resources/:resourceId", s.DetachEntryResource)

	admin.GET("/invoices", s.ListInvoices)
	admin.POST("/invoices", s.CreateInvoice)
	admin.GET("/invoices/:id", s.GetInvoiceByID)
	admin.PATCH("/invoices/:id", s.UpdateDraftInvoice)
	admin.DELETE("/invoices/:id", s.DeleteInvoice)
	admin.POST("/invoices/:id/items", s.AddInvoiceLineItem)
	admin.DELETE("/invoices/:id/items/:itemId", s.RemoveInvoiceLineItem)
	admin.POST("/invoices/:id/send", s.SendInvoice)
	admin.POST("/invoices/:id/pay", s.MarkInvoicePaid)
	admin.GET("/invoices/:id/render", s.RenderInvoice)

	admin.GET("/events", s.StreamStaffEvents)
}

func (s *Server) registerPortalRoutes() {
	portal := s.engine.Group("/portal")
	portal.Use(s.PortalAuthRequired())

	portal.GET("/entries", s.PortalListEntries)
	portal.GET("/invoices", s.PortalListInvoices)
	portal.GET("/invoices/:id", s.PortalGetInvoice)
	portal.GET("/invoices/:id/render", s.PortalRenderInvoice)

	portal.GET("/events", s.StreamPortalEvents)
}
