package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/pipeline"
	"github.com/AngelCh415/adreports/internal/store"
	"github.com/AngelCh415/adreports/internal/utils"
)

const maxBody = 1 << 20

type previewRequest struct {
	Config models.ReportConfig `json:"config"`
}

type runRequest struct {
	Name   string              `json:"name"`
	Config models.ReportConfig `json:"config"`
}

func NewRouter(log *slog.Logger, runner *pipeline.Runner) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := runner.Runs.List(r.Context(), 1); err != nil {
			http.Error(w, "run store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.Post("/reports/validate", func(w http.ResponseWriter, r *http.Request) {
		var req previewRequest
		if !decode(w, r, &req) {
			return
		}
		plan, err := runner.Pipeline.Validate(req.Config)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":     true,
			"date_from": plan.Range.DateFrom(),
			"date_to":   plan.Range.DateTo(),
		})
	})

	mux.Post("/reports/preview", func(w http.ResponseWriter, r *http.Request) {
		var req previewRequest
		if !decode(w, r, &req) {
			return
		}
		out, err := runner.Pipeline.Run(r.Context(), req.Config)
		if err != nil {
			writeError(w, err)
			return
		}
		q := r.URL.Query()
		limit, offset := clampLimitOffset(atoiDef(q.Get("limit"), 100), atoiDef(q.Get("offset"), 0), out.Len())
		w.Header().Set("X-Total-Rows", strconv.Itoa(out.Len()))
		writeJSON(w, http.StatusOK, out.Slice(offset, limit))
	})

	mux.Post("/reports/run", func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Name == "" {
			req.Name = "report"
		}
		run, _, err := runner.Run(r.Context(), req.Name, req.Config)
		if err != nil {
			w.Header().Set("X-Run-ID", run.ID)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	})

	mux.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := runner.Runs.List(r.Context(), atoiDef(r.URL.Query().Get("limit"), 50))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := runner.Runs.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, errs.Invalid("body", "malformed JSON: %v", err))
		return false
	}
	return true
}

type errorBody struct {
	Error string    `json:"error"`
	Stage string    `json:"stage,omitempty"`
	Kind  errs.Kind `json:"kind,omitempty"`
}

// StatusOf maps the error taxonomy onto HTTP.
func StatusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusOf(err), errorBody{Error: err.Error(), Stage: errs.StageOf(err), Kind: errs.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}
