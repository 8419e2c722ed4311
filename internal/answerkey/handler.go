package answerkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"omrkey/internal/app/apiresp"
	"omrkey/internal/template"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc            answerKeyService
	maxUploadBytes int64
}

type answerKeyService interface {
	ValidateTemplate(t *template.Template) (*TemplateReport, error)
	Overview(t *template.Template) (*TemplateOverview, error)
	CheckValue(ft template.FieldType, value string) ValueCheck
	DefaultScores(t *template.Template, total float64) (ScoreMap, error)
	DistributeScore(t *template.Template, baseKey string, total float64, scores ScoreMap) (*DistributeResult, error)
	Export(t *template.Template, answers AllAnswers, scores ScoreMap) ([]byte, error)
	ExportBlank(t *template.Template, variants []string) ([]byte, error)
	Import(t *template.Template, r io.Reader) (*ImportResult, error)
	Grade(ctx context.Context, in GradeInput) (*GradeResult, error)
	Submit(ctx context.Context, in SubmitInput) (*Record, error)
	LoadExisting(ctx context.Context, examCode string, t *template.Template) (*LoadResult, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"-"`
}

type checkValueRequest struct {
	FieldType template.FieldType `json:"field_type"`
	Value     string             `json:"value"`
}

type defaultScoresRequest struct {
	Template    json.RawMessage `json:"template"`
	TotalPoints float64         `json:"total_points"`
}

type distributeRequest struct {
	Template json.RawMessage `json:"template"`
	BaseKey  string          `json:"base_key"`
	Total    float64         `json:"total"`
	Scores   ScoreMap        `json:"scores"`
}

// answerKeyRequest carries an answer key in either the nested or the legacy
// flat JSON form.
type answerKeyRequest struct {
	Template  json.RawMessage `json:"template"`
	AnswerKey json.RawMessage `json:"answer_key"`
}

type exportBlankRequest struct {
	Template json.RawMessage `json:"template"`
	Variants []string        `json:"variants"`
}

type gradeRequest struct {
	Template  json.RawMessage   `json:"template"`
	AnswerKey json.RawMessage   `json:"answer_key"`
	ExamCode  string            `json:"exam_code"`
	Variant   string            `json:"variant"`
	Marks     map[string]string `json:"marks"`
}

type submitRequest struct {
	Template    json.RawMessage `json:"template"`
	AnswerKey   json.RawMessage `json:"answer_key"`
	TotalPoints float64         `json:"total_points"`
}

type loadRequest struct {
	Template json.RawMessage `json:"template"`
}

func NewHandler(svc answerKeyService, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) ValidateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.readTemplateBody(w, r)
	if !ok {
		return
	}
	report, err := h.svc.ValidateTemplate(tmpl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: report})
}

func (h *Handler) TemplateIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.readTemplateBody(w, r)
	if !ok {
		return
	}
	overview, err := h.svc.Overview(tmpl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	etag := `"` + overview.Fingerprint + `"`
	w.Header().Set("ETag", etag)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: overview})
}

func (h *Handler) CheckValue(w http.ResponseWriter, r *http.Request) {
	var req checkValueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(string(req.FieldType)) == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "field_type is required"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: h.svc.CheckValue(req.FieldType, req.Value)})
}

func (h *Handler) DefaultScores(w http.ResponseWriter, r *http.Request) {
	var req defaultScoresRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	scores, err := h.svc.DefaultScores(tmpl, req.TotalPoints)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{
		"scores": scores,
		"total":  scores.Total(),
	}})
}

func (h *Handler) DistributeScore(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.BaseKey) == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "base_key is required"})
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.DistributeScore(tmpl, req.BaseKey, req.Total, req.Scores)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req answerKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	answers, scores, err := decodeOptionalAnswerKey(req.AnswerKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	body, err := h.svc.Export(tmpl, answers, scores)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeXLSX(w, "dap-an.xlsx", body)
}

func (h *Handler) ExportBlank(w http.ResponseWriter, r *http.Request) {
	var req exportBlankRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	body, err := h.svc.ExportBlank(tmpl, req.Variants)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeXLSX(w, "mau-dap-an.xlsx", body)
}

// Import takes a multipart form with the template JSON in field "template"
// and the workbook in field "file".
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeBodyError(w, r, err, "invalid multipart form")
		return
	}
	tmpl, err := parseTemplate(json.RawMessage(r.FormValue("template")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	res, err := h.svc.Import(tmpl, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"answers":  res.Answers,
		"scores":   res.Scores,
		"warnings": res.Warnings,
	}})
}

func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	answers, scores, err := decodeOptionalAnswerKey(req.AnswerKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(answers) == 0 && strings.TrimSpace(req.ExamCode) == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "answer_key or exam_code is required"})
		return
	}
	res, err := h.svc.Grade(r.Context(), GradeInput{
		Template: tmpl,
		ExamCode: req.ExamCode,
		Variant:  req.Variant,
		Answers:  answers,
		Scores:   scores,
		Marks:    req.Marks,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	examCode := strings.TrimSpace(chi.URLParam(r, "code"))
	if examCode == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam code"})
		return
	}
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	answers, scores, err := decodeOptionalAnswerKey(req.AnswerKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	rec, err := h.svc.Submit(r.Context(), SubmitInput{
		ExamCode:    examCode,
		Template:    tmpl,
		TotalPoints: req.TotalPoints,
		Answers:     answers,
		Scores:      scores,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: rec})
}

func (h *Handler) LoadExisting(w http.ResponseWriter, r *http.Request) {
	examCode := strings.TrimSpace(chi.URLParam(r, "code"))
	if examCode == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam code"})
		return
	}
	var req loadRequest
	if !h.decode(w, r, &req) {
		return
	}
	tmpl, err := parseTemplate(req.Template)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.LoadExisting(r.Context(), examCode, tmpl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBodyError(w, r, err, "invalid request body")
		return false
	}
	return true
}

// readTemplateBody reads a request whose whole body is the template JSON.
func (h *Handler) readTemplateBody(w http.ResponseWriter, r *http.Request) (*template.Template, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		writeBodyError(w, r, err, "invalid request body")
		return nil, false
	}
	tmpl, err := parseTemplate(body)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return tmpl, true
}

func parseTemplate(raw json.RawMessage) (*template.Template, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, ErrTemplateRequired
	}
	return template.Parse(raw)
}

func decodeOptionalAnswerKey(raw json.RawMessage) (AllAnswers, ScoreMap, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return AllAnswers{}, ScoreMap{}, nil
	}
	return DecodeAnswerKey(raw)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCode(err)
	switch {
	case errors.Is(err, ErrAnswerKeyNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error(), Code: code})
	case errors.Is(err, template.ErrTemplateInvalid),
		errors.Is(err, ErrScoreTotalMismatch),
		errors.Is(err, ErrUnknownLabel),
		errors.Is(err, ErrInvalidAnswerValue):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error(), Code: code})
	case IsClientError(err):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error(), Code: code})
	default:
		log.Printf("answer key request failed: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

// writeBodyError reports a body that could not be read: 413 when it went
// past the upload limit, 400 otherwise.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, response{
			OK:    false,
			Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: msg})
}

func writeXLSX(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteErrorCode(w, r, code, payload.Code, payload.Error)
}
