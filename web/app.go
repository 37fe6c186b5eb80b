package web

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/services"
	gut "github.com/panyam/goutils/template"
	gotl "github.com/panyam/templar"
)

type AppConfig struct {
	TemplatesDir    string
	StaticDir       string
	MaxImportSize   int64
	SyncUndo        bool
	SessionLifetime time.Duration
	Logger          *slog.Logger
}

// App wires the diagram service and the collaboration hub to HTTP: the JSON
// API, the live websocket endpoint and the dashboard and editor pages.
type App struct {
	Service   *services.DiagramService
	Hub       *collab.Hub
	Session   *scs.SessionManager
	Templates *gotl.TemplateGroup

	config AppConfig
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewApp(svc *services.DiagramService, hub *collab.Hub, config AppConfig) *App {
	if config.TemplatesDir == "" {
		config.TemplatesDir = "./web/templates"
	}
	if config.StaticDir == "" {
		config.StaticDir = filepath.Join(filepath.Dir(config.TemplatesDir), "static")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	session := scs.New()
	if config.SessionLifetime > 0 {
		session.Lifetime = config.SessionLifetime
	}

	app := &App{
		Service: svc,
		Hub:     hub,
		Session: session,
		config:  config,
		logger:  config.Logger,
	}

	templates := gotl.NewTemplateGroup()
	templates.Loader = (&gotl.LoaderList{}).AddLoader(gotl.NewFileSystemLoader(config.TemplatesDir))
	templates.AddFuncs(gut.DefaultFuncMap())
	templates.AddFuncs(template.FuncMap{
		"Ago":   Ago,
		"Glyph": diagram.Glyph,
	})
	app.Templates = templates
	return app
}

// Handler returns the full route table. Pages and the API run inside the
// session middleware; the websocket endpoint bypasses it so the connection can
// be hijacked.
func (a *App) Handler() http.Handler {
	a.mux = http.NewServeMux()
	a.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(a.config.StaticDir))))
	a.mux.Handle("/api/", http.StripPrefix("/api", NewDiagramApi(a).Handler()))
	NewPages(a).Register(a.mux)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws/diagrams/{diagramId}", a.serveLive)
	root.Handle("/", a.Session.LoadAndSave(a.mux))
	return RequestLogger(a.logger, root)
}

func Ago(t time.Time) string {
	diff := time.Since(t)

	if days := int64(diff.Hours() / 24); days > 0 {
		return fmt.Sprintf("%d days ago", days)
	}
	if hours := int64(diff.Hours()); hours > 0 {
		return fmt.Sprintf("%d hours ago", hours)
	}
	if minutes := int64(diff.Minutes()); minutes > 0 {
		return fmt.Sprintf("%d minutes ago", minutes)
	}
	if diff.Seconds() > 1 {
		return fmt.Sprintf("%d seconds ago", int64(diff.Seconds()))
	}
	return "just now"
}
