package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
	"github.com/panyam/classdraw/services"
	fn "github.com/panyam/goutils/fn"
	"google.golang.org/grpc/status"
)

type Pages struct {
	app *App
}

func NewPages(app *App) *Pages {
	return &Pages{app: app}
}

func (p *Pages) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /diagrams/{diagramId}/edit", p.app.ViewRenderer(Copier(&DiagramEditorPage{}), ""))
	mux.HandleFunc("POST /diagrams/new", p.createDiagram)
	mux.HandleFunc("POST /projects/new", p.createProject)
	mux.HandleFunc("GET /{$}", p.app.ViewRenderer(Copier(&HomePage{}), ""))
}

func (p *Pages) createDiagram(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	d, err := p.app.Service.CreateDiagram(r.Context(), &services.Diagram{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		ProjectId:   r.FormValue("projectId"),
	}, nil)
	if err != nil {
		p.app.Flash(r.Context(), "Could not create diagram: "+statusMessage(err))
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/diagrams/%s/edit", d.Id), http.StatusSeeOther)
}

func (p *Pages) createProject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	project, err := p.app.Service.CreateProject(r.Context(), &services.Project{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		p.app.Flash(r.Context(), "Could not create project: "+statusMessage(err))
	} else {
		p.app.Flash(r.Context(), fmt.Sprintf("Created project %q", project.Name))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DiagramRow is one line of the dashboard listing.
type DiagramRow struct {
	Id          string
	Name        string
	Description string
	Project     string
	UpdatedAt   time.Time
	Version     int
	Live        int
}

type HomePage struct {
	BasePage
	Projects []*services.Project
	Diagrams []DiagramRow
	Formats  []export.Format
}

func (g *HomePage) Copy() View { return &HomePage{} }

func (v *HomePage) Load(r *http.Request, w http.ResponseWriter, app *App) (err error, finished bool) {
	v.Title = "Diagrams"
	v.Flash = app.PopFlash(r.Context())
	v.Formats = export.AvailableFormats()
	if v.Projects, err = app.Service.ListProjects(r.Context()); err != nil {
		return err, false
	}
	diagrams, err := app.Service.ListDiagrams(r.Context(), r.URL.Query().Get("projectId"))
	if err != nil {
		return err, false
	}
	names := make(map[string]string, len(v.Projects))
	for _, project := range v.Projects {
		names[project.Id] = project.Name
	}
	v.Diagrams = fn.Map(diagrams, func(d *services.Diagram) DiagramRow {
		row := DiagramRow{
			Id:          d.Id,
			Name:        d.Name,
			Description: d.Description,
			Project:     names[d.ProjectId],
			UpdatedAt:   d.UpdatedAt,
			Version:     d.Version,
		}
		if room, ok := app.Hub.Room(d.Id); ok {
			row.Live = room.Peers()
		}
		return row
	})
	return nil, false
}

// ClassPreview is the generated Java for one class of the diagram.
type ClassPreview struct {
	Name   string
	Type   diagram.NodeType
	Source string
}

type DiagramEditorPage struct {
	BasePage
	Diagram      *services.Diagram
	SnapshotJSON template.JS
	SocketPath   string
	SyncUndo     bool
	Classes      []ClassPreview
	Mermaid      string
	Divergences  []string
	Formats      []export.Format
}

func (g *DiagramEditorPage) Copy() View { return &DiagramEditorPage{} }

func (v *DiagramEditorPage) Load(r *http.Request, w http.ResponseWriter, app *App) (err error, finished bool) {
	diagramId := r.PathValue("diagramId")
	if v.Diagram, err = app.Service.GetDiagram(r.Context(), diagramId); err != nil {
		return err, false
	}
	v.Title = v.Diagram.Name
	v.Flash = app.PopFlash(r.Context())
	v.SocketPath = "/ws/diagrams/" + diagramId
	v.SyncUndo = app.config.SyncUndo
	v.Formats = export.AvailableFormats()

	var snap *diagram.Snapshot
	if room, ok := app.Hub.Room(diagramId); ok {
		snap = room.Session().Snapshot()
	} else if snap, err = app.Service.GetSnapshot(r.Context(), diagramId); err != nil {
		return err, false
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err, false
	}
	v.SnapshotJSON = template.JS(data)

	d, err := diagram.FromSnapshot(snap)
	if err != nil {
		return err, false
	}
	v.Classes = fn.Map(d.Nodes(), func(n *diagram.Node) ClassPreview {
		return ClassPreview{Name: n.Data.Name, Type: n.Data.Type, Source: export.JavaSource(n.Data)}
	})
	v.Mermaid = export.Mermaid(d)
	v.Divergences = fn.Map(export.Divergences(d), func(div export.Divergence) string { return div.String() })
	return nil, false
}

func statusMessage(err error) string {
	return status.Convert(err).Message()
}
