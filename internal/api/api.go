// Package api exposes the core pipeline surface over HTTP. The wire format
// here is intentionally thin: handlers validate, delegate to the
// orchestrator or resolver, and translate error kinds to status codes.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/logger"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/orchestrator"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/replay"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/report"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

type Server struct {
	orc        *orchestrator.Orchestrator
	resolver   *replay.Resolver
	reportPath string
}

func NewServer(orc *orchestrator.Orchestrator, resolver *replay.Resolver, reportPath string) *Server {
	return &Server{orc: orc, resolver: resolver, reportPath: reportPath}
}

// Router wires every core operation onto a mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/calls", s.submitCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{callID}/resubmit", s.resubmitCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{callID}/reanalyze", s.reanalyzeCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{callID}/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/transcript", s.getTranscript).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/sentiment", s.getSentiment).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/moments", s.getMoments).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/summary", s.getSummary).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/analysis", s.getFullAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/moments/{momentID}/replay", s.replayMoment).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/moments/{momentID}/recommendation", s.replayWithRecommendation).Methods(http.MethodGet)
	r.HandleFunc("/calls/{callID}/moments/{momentID}/narrate", s.narrateMoment).Methods(http.MethodPost)
	r.HandleFunc("/reports/coaching", s.exportReport).Methods(http.MethodPost)
	return r
}

type reportRequest struct {
	CallIDs []string `json:"call_ids"`
}

// exportReport writes the coaching workbook for the named completed calls.
func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "report")

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CallIDs) == 0 {
		writeError(w, reqLog, pipeline.Validationf("call_ids is required"))
		return
	}

	results := make([]types.AnalysisResult, 0, len(req.CallIDs))
	for _, callID := range req.CallIDs {
		res, err := s.orc.GetFullAnalysis(r.Context(), callID)
		if err != nil {
			writeError(w, reqLog, err)
			return
		}
		results = append(results, res)
	}
	if err := report.Write(s.reportPath, results); err != nil {
		writeError(w, reqLog, err)
		return
	}
	reqLog.WithField("calls", len(results)).Info("coaching report written")
	writeJSON(w, http.StatusOK, map[string]any{"path": s.reportPath, "calls": len(results)})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	CallID     string `json:"call_id"`
	AgentID    string `json:"agent_id"`
	CustomerID string `json:"customer_id"`
	AudioRef   string `json:"audio_ref"`
}

func (s *Server) submitCall(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "submit")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, reqLog, pipeline.Validationf("invalid request body"))
		return
	}
	if err := s.orc.Submit(r.Context(), req.CallID, req.AgentID, req.CustomerID, req.AudioRef); err != nil {
		writeError(w, reqLog, err)
		return
	}
	reqLog.WithField("call_id", req.CallID).Info("call accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": req.CallID, "status": "accepted"})
}

func (s *Server) resubmitCall(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "resubmit")
	callID := mux.Vars(r)["callID"]
	if err := s.orc.Resubmit(r.Context(), callID); err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": callID, "status": "resubmitted"})
}

func (s *Server) reanalyzeCall(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "reanalyze")
	callID := mux.Vars(r)["callID"]
	if err := s.orc.Reanalyze(r.Context(), callID); err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"call_id": callID, "status": "reanalyzed"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "status")
	view, err := s.orc.GetStatus(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "transcript")
	t, err := s.orc.GetTranscript(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getSentiment(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "sentiment")
	trace, err := s.orc.GetSentiment(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) getMoments(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "moments")

	filter := orchestrator.MomentFilter{
		Category: types.MomentCategory(r.URL.Query().Get("category")),
	}
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, reqLog, pipeline.Validationf("min_confidence must be a number"))
			return
		}
		filter.MinConfidence = f
	}

	moments, err := s.orc.GetMoments(r.Context(), mux.Vars(r)["callID"], filter)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, moments)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "summary")
	sum, err := s.orc.GetSummary(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) getFullAnalysis(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "analysis")
	result, err := s.orc.GetFullAnalysis(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) replayMoment(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "replay")
	callID, momentID, err := momentRef(r)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	seg, err := s.resolver.Resolve(r.Context(), callID, momentID)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) replayWithRecommendation(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "recommendation")
	callID, momentID, err := momentRef(r)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	rec, err := s.resolver.ResolveWithRecommendation(r.Context(), callID, momentID)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) narrateMoment(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "narrate")
	callID, momentID, err := momentRef(r)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	_, audio, err := s.resolver.Narrate(r.Context(), callID, momentID)
	if err != nil {
		writeError(w, reqLog, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func momentRef(r *http.Request) (string, int, error) {
	vars := mux.Vars(r)
	momentID, err := strconv.Atoi(vars["momentID"])
	if err != nil || momentID < 1 {
		return "", 0, pipeline.Validationf("moment id must be a positive integer")
	}
	return vars["callID"], momentID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	status := http.StatusInternalServerError
	switch pipeline.KindOf(err) {
	case pipeline.KindValidation:
		status = http.StatusBadRequest
	case pipeline.KindNotFound:
		status = http.StatusNotFound
	case pipeline.KindConflict:
		status = http.StatusConflict
	case pipeline.KindPermanent:
		status = http.StatusUnprocessableEntity
	case pipeline.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		log.WithError(err).Error("request failed")
	} else {
		log.WithError(err).Warn("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(pipeline.KindOf(err))})
}
