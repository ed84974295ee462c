package http

import (
	"errors"
	"net/http"

	"moneta/internal/log"
	"moneta/internal/services"
)

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.processor.ProcessDueRecurrences(ctx, asOf)
	if errors.Is(err, services.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a recurring run is already in progress")
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "Manual recurring run failed",
			log.NewFields().WithOperation(log.OpProcess).WithError(err).ToSlice()...)
		writeError(w, http.StatusInternalServerError, "failed to process recurring templates")
		return
	}

	logger.InfoContext(ctx, "Manual recurring run finished",
		log.NewFields().
			WithOperation(log.OpProcess).
			WithRunCounts(summary.Processed, summary.Skipped, summary.Failed, summary.Total).
			ToSlice()...)
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templates, err := s.store.ListActiveRecurring(ctx)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to list recurring templates", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to list recurring templates")
		return
	}

	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, newTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeTemplateRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tmpl, err := req.template()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.store.CreateTemplate(ctx, tmpl)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to create recurring template", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to create recurring template")
		return
	}

	log.FromContext(ctx).InfoContext(ctx, "Recurring template created",
		log.FieldOperation, log.OpCreate,
		"template_id", created.ID,
		"frequency", created.Frequency)
	writeJSON(w, http.StatusCreated, newTemplateResponse(created))
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if s.lastRun == nil {
		writeError(w, http.StatusNotFound, "run history is not available")
		return
	}
	summary := s.lastRun()
	if summary.AsOf.IsZero() {
		writeError(w, http.StatusNotFound, "no recurring run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseTransactionFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to list transactions",
			log.NewFields().WithOperation(log.OpList).WithError(err).ToSlice()...)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}
