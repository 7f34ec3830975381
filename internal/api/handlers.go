package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

const maxBodyBytes = 1 << 20

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getWizard(w http.ResponseWriter, r *http.Request) {
	reset := parseBool(r.URL.Query().Get("reset"))
	res, err := h.core.WizardState(r.Context(), sessionID(r), reset)
	h.writeStep(w, r, res, err)
}

func (h *handler) submitTopic(w http.ResponseWriter, r *http.Request) {
	var payload topicPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := h.core.SubmitTopic(r.Context(), sessionID(r), payload.Seq, payload.Query)
	h.writeStep(w, r, res, err)
}

func (h *handler) confirmDates(w http.ResponseWriter, r *http.Request) {
	var payload datesPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	accept, ok := parseConfirm(payload.Confirm)
	if !ok {
		writeErrorResponse(w, r, http.StatusBadRequest,
			eventstudy.NewError(eventstudy.ErrCodeInvalidInput, `confirm must be "yes" or "no"`))
		return
	}
	res, err := h.core.ConfirmDates(r.Context(), sessionID(r), payload.Seq, accept, payload.Events)
	h.writeStep(w, r, res, err)
}

func (h *handler) submitStocks(w http.ResponseWriter, r *http.Request) {
	var payload stocksPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if payload.TopN < 0 {
		writeErrorResponse(w, r, http.StatusBadRequest,
			eventstudy.NewError(eventstudy.ErrCodeInvalidInput, "top_n must not be negative"))
		return
	}
	res, err := h.core.SubmitStocks(r.Context(), sessionID(r), payload.Seq, payload.Stocks, payload.TopN, author(r))
	h.writeStep(w, r, res, err)
}

func (h *handler) writeStep(w http.ResponseWriter, r *http.Request, res eventstudy.StepResult, err error) {
	switch {
	case err != nil:
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
	case res.ErrorCode != "":
		writeStepError(w, r, res)
	case res.Done:
		writeSuccessWithMessage(w, "analysis created", res)
	default:
		writeSuccess(w, res)
	}
}

func (h *handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, offset := eventstudy.NormalizeLimitOffset(
		parseIntDefault(r.URL.Query().Get("limit"), 0),
		parseIntDefault(r.URL.Query().Get("offset"), 0),
	)
	items, err := h.core.Records().ListRecords(r.Context(), limit, offset)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []eventstudy.AnalysisRecord{}
	}
	writeSuccess(w, analysesResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorResponse(w, r, http.StatusBadRequest, eventstudy.NewError(eventstudy.ErrCodeInvalidInput, "invalid id"))
		return
	}
	rec, err := h.core.Records().GetRecord(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	detail := analysisDetail{AnalysisRecord: rec}
	if rec.ResultsData != nil {
		detail.Heatmap = buildHeatmap(rec.ResultsData.Summary)
	}
	writeSuccess(w, detail)
}

func (h *handler) getOperationLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	result, err := h.core.GetOperationLogs(r.Context(), limit, offset)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, result)
}

// Helpers.

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return eventstudy.NewError(eventstudy.ErrCodeInvalidInput, "request body too large")
		}
		return eventstudy.WrapError(eventstudy.ErrCodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func parseConfirm(value string) (accept bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	return false, false
}
