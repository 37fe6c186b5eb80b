package web

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

type ViewMaker func() View

type Copyable interface {
	Copy() View
}

func Copier[V Copyable](v V) ViewMaker {
	return v.Copy
}

// A View loads its data from the request and is then rendered with the
// template of the same name. A view that wrote the response itself reports
// finished.
type View interface {
	Load(r *http.Request, w http.ResponseWriter, app *App) (err error, finished bool)
}

type BasePage struct {
	Title string
	Flash string
}

func (a *App) ViewRenderer(view ViewMaker, template string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.RenderView(view(), template, r, w)
	}
}

func (a *App) RenderView(view View, template string, r *http.Request, w http.ResponseWriter) {
	if template == "" {
		t := reflect.TypeOf(view)
		e := t.Elem()
		template = e.Name()
	}
	err, finished := view.Load(r, w, a)
	if finished {
		return
	}
	if err != nil {
		a.logger.Error("Error loading view", "template", template, "error", err)
		w.WriteHeader(statusFor(err))
		fmt.Fprint(w, "Error rendering: ", err.Error())
		return
	}
	tmpl, err := a.Templates.Loader.Load(template+".html", "")
	if err != nil {
		a.logger.Error("Template Load Error", "template", template, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Error rendering: ", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := a.Templates.RenderHtmlTemplate(w, tmpl[0], template, view, nil); err != nil {
		a.logger.Error("Template render error", "template", template, "error", err)
	}
}

func statusFor(err error) int {
	return runtime.HTTPStatusFromCode(status.Code(err))
}
