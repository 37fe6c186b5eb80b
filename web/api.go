package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
	"github.com/panyam/classdraw/importer"
	"github.com/panyam/classdraw/services"
	"google.golang.org/grpc/status"
)

// DiagramApi serves the JSON API mounted under /api.
//
//	GET    /projects                    list projects
//	POST   /projects                    create a project
//	GET    /projects/{id}               get a project
//	GET    /diagrams?projectId=         list diagrams
//	POST   /diagrams                    create a diagram
//	GET    /diagrams/{id}               get a diagram
//	DELETE /diagrams/{id}               delete a diagram
//	GET    /diagrams/{id}/snapshot      current content
//	PUT    /diagrams/{id}/snapshot      replace content
//	GET    /diagrams/{id}/export        zip of generated files (?format=java|mermaid|project)
//	POST   /import                      create a diagram from a project archive
type DiagramApi struct {
	app *App
	mux *http.ServeMux
}

func NewDiagramApi(app *App) *DiagramApi {
	out := &DiagramApi{app: app, mux: http.NewServeMux()}
	out.setupRoutes()
	return out
}

func (n *DiagramApi) Handler() http.Handler {
	return n.mux
}

func (n *DiagramApi) setupRoutes() {
	n.mux.HandleFunc("GET /projects", n.listProjects)
	n.mux.HandleFunc("POST /projects", n.createProject)
	n.mux.HandleFunc("GET /projects/{projectId}", n.getProject)

	n.mux.HandleFunc("GET /diagrams", n.listDiagrams)
	n.mux.HandleFunc("POST /diagrams", n.createDiagram)
	n.mux.HandleFunc("GET /diagrams/{diagramId}", n.getDiagram)
	n.mux.HandleFunc("DELETE /diagrams/{diagramId}", n.deleteDiagram)
	n.mux.HandleFunc("GET /diagrams/{diagramId}/snapshot", n.getSnapshot)
	n.mux.HandleFunc("PUT /diagrams/{diagramId}/snapshot", n.putSnapshot)
	n.mux.HandleFunc("GET /diagrams/{diagramId}/export", n.exportDiagram)

	n.mux.HandleFunc("POST /import", n.importProject)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// writeError maps service status errors onto HTTP statuses the way the
// gateway does.
func writeError(w http.ResponseWriter, err error) {
	s := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(s.Code()), errorBody{Code: s.Code().String(), Message: s.Message()})
}

func writeHTTPError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Code: http.StatusText(code), Message: err.Error()})
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (n *DiagramApi) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := n.app.Service.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": nonNil(projects)})
}

func (n *DiagramApi) createProject(w http.ResponseWriter, r *http.Request) {
	var p services.Project
	if err := decodeBody(r, &p); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err)
		return
	}
	out, err := n.app.Service.CreateProject(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (n *DiagramApi) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := n.app.Service.GetProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (n *DiagramApi) listDiagrams(w http.ResponseWriter, r *http.Request) {
	diagrams, err := n.app.Service.ListDiagrams(r.Context(), r.URL.Query().Get("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagrams": nonNil(diagrams)})
}

type createDiagramRequest struct {
	services.Diagram
	Snapshot *diagram.Snapshot `json:"snapshot,omitempty"`
}

func (n *DiagramApi) createDiagram(w http.ResponseWriter, r *http.Request) {
	var req createDiagramRequest
	if err := decodeBody(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err)
		return
	}
	out, err := n.app.Service.CreateDiagram(r.Context(), &req.Diagram, req.Snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (n *DiagramApi) getDiagram(w http.ResponseWriter, r *http.Request) {
	d, err := n.app.Service.GetDiagram(r.Context(), r.PathValue("diagramId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (n *DiagramApi) deleteDiagram(w http.ResponseWriter, r *http.Request) {
	if err := n.app.Service.DeleteDiagram(r.Context(), r.PathValue("diagramId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// currentSnapshot prefers the live room's state over the stored one, which
// may be up to a flush interval behind.
func (n *DiagramApi) currentSnapshot(r *http.Request, diagramId string) (*diagram.Snapshot, error) {
	if room, ok := n.app.Hub.Room(diagramId); ok {
		return room.Session().Snapshot(), nil
	}
	return n.app.Service.GetSnapshot(r.Context(), diagramId)
}

func (n *DiagramApi) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := n.currentSnapshot(r, r.PathValue("diagramId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (n *DiagramApi) putSnapshot(w http.ResponseWriter, r *http.Request) {
	diagramId := r.PathValue("diagramId")
	if room, ok := n.app.Hub.Room(diagramId); ok && room.Peers() > 0 {
		writeHTTPError(w, http.StatusConflict, fmt.Errorf("diagram %s is being edited live", diagramId))
		return
	}
	var snap diagram.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err)
		return
	}
	if err := n.app.Service.ReplaceSnapshot(r.Context(), diagramId, &snap); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *DiagramApi) exportDiagram(w http.ResponseWriter, r *http.Request) {
	diagramId := r.PathValue("diagramId")
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := n.currentSnapshot(r, diagramId)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := diagram.FromSnapshot(snap)
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, err)
		return
	}
	if meta, err := n.app.Service.GetDiagram(r.Context(), diagramId); err == nil {
		d.Name = meta.Name
	}

	for _, div := range export.Divergences(d) {
		slog.Debug("Inheritance edge not reflected in class fields", "diagramId", diagramId, "divergence", div.String())
	}

	// buffered so a failed export can still produce an error response
	var buf bytes.Buffer
	if err := export.Bundle(&buf, d, format); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, export.ErrNoClasses) {
			code = http.StatusUnprocessableEntity
		}
		n.app.Flash(r.Context(), "Export failed: "+err.Error())
		writeHTTPError(w, code, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, export.ArchiveDir(d.Name)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// importOverhead is the multipart framing allowed on top of the archive.
const importOverhead = 64 << 10

func (n *DiagramApi) importProject(w http.ResponseWriter, r *http.Request) {
	im := importer.New(n.app.config.MaxImportSize)
	r.Body = http.MaxBytesReader(w, r.Body, im.MaxSize+importOverhead)
	contentType := r.Header.Get("Content-Type")
	filename := r.URL.Query().Get("filename")
	body := io.Reader(r.Body)

	// multipart uploads from the dashboard form. The file part is streamed
	// so its type is checked before any of it is read.
	if mr, err := r.MultipartReader(); err == nil {
		part, err := formFile(mr, "file")
		if err != nil {
			n.importFailed(w, r, err)
			return
		}
		defer part.Close()
		body = part
		contentType = part.Header.Get("Content-Type")
		filename = part.FileName()
	}

	snap, err := im.Import(body, contentType, filename)
	if err != nil {
		n.importFailed(w, r, err)
		return
	}
	out, err := n.app.Service.CreateDiagram(r.Context(), &services.Diagram{ProjectId: r.URL.Query().Get("projectId")}, snap)
	if err != nil {
		n.app.Flash(r.Context(), "Import failed: "+status.Convert(err).Message())
		writeError(w, err)
		return
	}
	n.app.Flash(r.Context(), fmt.Sprintf("Imported %q", out.Name))
	writeJSON(w, http.StatusCreated, out)
}

// formFile advances mr to the part named name.
func formFile(mr *multipart.Reader, name string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no %q field in the form", importer.ErrMalformedArchive, name)
		} else if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if part.FormName() == name {
			return part, nil
		}
		part.Close()
	}
}

func (n *DiagramApi) importFailed(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadRequest
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, importer.ErrUnsupportedType):
		code = http.StatusUnsupportedMediaType
	case errors.Is(err, importer.ErrArchiveTooLarge), errors.As(err, &tooBig):
		code = http.StatusRequestEntityTooLarge
	}
	n.app.Flash(r.Context(), "Import failed: "+err.Error())
	writeHTTPError(w, code, err)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
