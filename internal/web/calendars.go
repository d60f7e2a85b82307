package web

import (
	"net/http"

	"lifecal/internal/model"
)

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.app.Sources(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Visible == nil {
		writeAppError(w, &model.ValidationError{Field: "visible", Reason: "is required"})
		return
	}
	src, err := s.app.ToggleCalendarVisibility(r.Context(), r.PathValue("id"), *body.Visible)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

type regionBody struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.app.Regions(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

func (s *Server) handleCreateRegion(w http.ResponseWriter, r *http.Request) {
	var body regionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	region, err := s.app.CreateRegion(r.Context(), body.Name, body.Color)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, region)
}

func (s *Server) handleUpdateRegion(w http.ResponseWriter, r *http.Request) {
	var body regionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	region, err := s.app.UpdateRegion(r.Context(), r.PathValue("id"), body.Name, body.Color)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

// handleExport serves the visible calendars, or the ?source= ids, as an
// iCalendar file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	body, err := s.app.ExportICS(r.Context(), listParam(r.URL.Query(), "source"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="lifecal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
