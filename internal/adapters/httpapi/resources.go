package httpapi

import (
	"net/http"

	"cruiseline/internal/core"
)

// resourceHandler serves one collection. GET with a non-empty id query
// parameter fetches a single row; otherwise the whole collection is listed.
type resourceHandler struct {
	api *API
	res core.Resource
}

func (h resourceHandler) get(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		row, err := h.api.service.Get(r.Context(), h.res, id)
		if err != nil {
			writeServiceError(w, h.api.logger, err)
			return
		}
		writeData(w, http.StatusOK, row)
		return
	}
	rows, err := h.api.service.List(r.Context(), h.res)
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	writeData(w, http.StatusOK, rows)
}

func (h resourceHandler) create(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	row, err := h.api.service.Create(r.Context(), h.res, body)
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	writeData(w, http.StatusCreated, row)
}

func (h resourceHandler) update(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	row, err := h.api.service.Update(r.Context(), h.res, body)
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	writeData(w, http.StatusOK, row)
}

func (h resourceHandler) delete(w http.ResponseWriter, r *http.Request) {
	row, err := h.api.service.Delete(r.Context(), h.res, r.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, h.api.logger, err)
		return
	}
	writeData(w, http.StatusOK, row)
}
