package answerkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omrkey/internal/template"
)

type mockAnswerKeyService struct {
	validateTemplateFn func(t *template.Template) (*TemplateReport, error)
	overviewFn         func(t *template.Template) (*TemplateOverview, error)
	checkValueFn       func(ft template.FieldType, value string) ValueCheck
	defaultScoresFn    func(t *template.Template, total float64) (ScoreMap, error)
	distributeScoreFn  func(t *template.Template, baseKey string, total float64, scores ScoreMap) (*DistributeResult, error)
	exportFn           func(t *template.Template, answers AllAnswers, scores ScoreMap) ([]byte, error)
	exportBlankFn      func(t *template.Template, variants []string) ([]byte, error)
	importFn           func(t *template.Template, r io.Reader) (*ImportResult, error)
	gradeFn            func(ctx context.Context, in GradeInput) (*GradeResult, error)
	submitFn           func(ctx context.Context, in SubmitInput) (*Record, error)
	loadExistingFn     func(ctx context.Context, examCode string, t *template.Template) (*LoadResult, error)
}

func (m *mockAnswerKeyService) ValidateTemplate(t *template.Template) (*TemplateReport, error) {
	if m.validateTemplateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.validateTemplateFn(t)
}

func (m *mockAnswerKeyService) Overview(t *template.Template) (*TemplateOverview, error) {
	if m.overviewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.overviewFn(t)
}

func (m *mockAnswerKeyService) CheckValue(ft template.FieldType, value string) ValueCheck {
	if m.checkValueFn == nil {
		return ValueCheck{}
	}
	return m.checkValueFn(ft, value)
}

func (m *mockAnswerKeyService) DefaultScores(t *template.Template, total float64) (ScoreMap, error) {
	if m.defaultScoresFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.defaultScoresFn(t, total)
}

func (m *mockAnswerKeyService) DistributeScore(t *template.Template, baseKey string, total float64, scores ScoreMap) (*DistributeResult, error) {
	if m.distributeScoreFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.distributeScoreFn(t, baseKey, total, scores)
}

func (m *mockAnswerKeyService) Export(t *template.Template, answers AllAnswers, scores ScoreMap) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(t, answers, scores)
}

func (m *mockAnswerKeyService) ExportBlank(t *template.Template, variants []string) ([]byte, error) {
	if m.exportBlankFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportBlankFn(t, variants)
}

func (m *mockAnswerKeyService) Import(t *template.Template, r io.Reader) (*ImportResult, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(t, r)
}

func (m *mockAnswerKeyService) Grade(ctx context.Context, in GradeInput) (*GradeResult, error) {
	if m.gradeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.gradeFn(ctx, in)
}

func (m *mockAnswerKeyService) Submit(ctx context.Context, in SubmitInput) (*Record, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, in)
}

func (m *mockAnswerKeyService) LoadExisting(ctx context.Context, examCode string, t *template.Template) (*LoadResult, error) {
	if m.loadExistingFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.loadExistingFn(ctx, examCode, t)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func withCode(r *http.Request, code string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("code", code)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestHandlerSubmitStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "ok", wantStatus: http.StatusOK},
		{name: "score mismatch", err: &ScoreTotalMismatchError{Actual: 9.98, Expected: 10}, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeScoreTotalMismatch},
		{name: "bad labels", err: &SubmissionError{Problems: []error{&UnknownLabelError{Label: "99"}}}, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeUnknownLabel},
		{name: "template invalid", err: template.ErrTemplateInvalid, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeTemplateInvalid},
		{name: "bad points", err: ErrInvalidScore, wantStatus: http.StatusBadRequest, wantCode: CodeInvalidScore},
		{name: "variant clash", err: ErrInvalidVariantCode, wantStatus: http.StatusBadRequest, wantCode: CodeInvalidVariantCode},
		{name: "storage", err: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got SubmitInput
			h := NewHandler(&mockAnswerKeyService{
				submitFn: func(ctx context.Context, in SubmitInput) (*Record, error) {
					got = in
					if tc.err != nil {
						return nil, tc.err
					}
					return &Record{ExamCode: in.ExamCode}, nil
				},
			}, 0)

			body := jsonBody(t, map[string]any{
				"template":     json.RawMessage(sampleTemplateJSON),
				"answer_key":   map[string]string{"q1": "A"},
				"total_points": 10,
			})
			req := withCode(httptest.NewRequest(http.MethodPost, "/api/v1/exams/E1/answer-key", body), "E1")
			w := httptest.NewRecorder()
			h.Submit(w, req)

			require.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			env := decodeEnvelope(t, w)
			assert.Equal(t, tc.err == nil, env.OK)
			if tc.err != nil {
				require.NotNil(t, env.Error)
				assert.Equal(t, tc.wantCode, env.Error.Code)
			}
			assert.Equal(t, "E1", got.ExamCode)
			assert.Equal(t, 10.0, got.TotalPoints)
			assert.Equal(t, AllAnswers{DefaultVariantCode: {"q1": "A"}}, got.Answers)
			require.NotNil(t, got.Template)
			assert.Len(t, got.Template.FieldBlocks, 4)
		})
	}
}

func TestHandlerSubmitBadInput(t *testing.T) {
	h := NewHandler(&mockAnswerKeyService{}, 0)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing template", body: `{"total_points":10}`},
		{name: "malformed template", body: `{"template":{"fieldBlocks":[1]}}`},
		{name: "malformed answer key", body: `{"template":` + sampleTemplateJSON + `,"answer_key":[1]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := withCode(httptest.NewRequest(http.MethodPost, "/api/v1/exams/E1/answer-key", bytes.NewBufferString(tc.body)), "E1")
			w := httptest.NewRecorder()
			h.Submit(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandlerTemplateIndexETag(t *testing.T) {
	h := NewHandler(&mockAnswerKeyService{
		overviewFn: func(tpl *template.Template) (*TemplateOverview, error) {
			idx := template.BuildIndex(tpl)
			return &TemplateOverview{Questions: idx, Groups: GroupForScoring(idx), Fingerprint: "abc123"}, nil
		},
	}, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/index", bytes.NewBufferString(sampleTemplateJSON))
	w := httptest.NewRecorder()
	h.TemplateIndex(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"abc123"`, w.Header().Get("ETag"))

	var data struct {
		Questions []json.RawMessage `json:"questions"`
		Groups    []json.RawMessage `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	assert.Len(t, data.Questions, 11)
	assert.Len(t, data.Groups, 5)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/templates/index", bytes.NewBufferString(sampleTemplateJSON))
	req.Header.Set("If-None-Match", `"abc123"`)
	w = httptest.NewRecorder()
	h.TemplateIndex(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestHandlerCheckValue(t *testing.T) {
	h := NewHandler(NewService(NewMemoryRepository(), ValueValidator{}), 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/values/check", bytes.NewBufferString(`{"field_type":"QTYPE_MCQ2","value":"X"}`))
	w := httptest.NewRecorder()
	h.CheckValue(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got ValueCheck
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &got))
	assert.False(t, got.Valid)
	assert.Contains(t, got.Reason, "T, F")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/values/check", bytes.NewBufferString(`{"value":"X"}`))
	w = httptest.NewRecorder()
	h.CheckValue(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerExportWritesWorkbook(t *testing.T) {
	h := NewHandler(&mockAnswerKeyService{
		exportFn: func(tpl *template.Template, answers AllAnswers, scores ScoreMap) ([]byte, error) {
			assert.Equal(t, AllAnswers{"101": {"q1": "A"}}, answers)
			assert.Equal(t, ScoreMap{"q1": 1}, scores)
			return []byte("xlsx"), nil
		},
	}, 0)

	body := `{"template":` + sampleTemplateJSON + `,"answer_key":{"answers":{"101":{"q1":"A"}},"scores":{"q1":1}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/export", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Export(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "xlsx", w.Body.String())
}

func TestHandlerImportMultipart(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ValueValidator{})
	workbook, err := WriteWorkbook([]Sheet{{Name: "101", Rows: []SheetRow{
		{Key: "q1", Answer: "C", Score: "1"},
		{Key: "99", Answer: "A"},
	}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("template", sampleTemplateJSON))
	fw, err := mw.CreateFormFile("file", "dap-an.xlsx")
	require.NoError(t, err)
	_, err = fw.Write(workbook)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	NewHandler(svc, 1<<20).Import(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Filename string          `json:"filename"`
		Answers  AllAnswers      `json:"answers"`
		Scores   ScoreMap        `json:"scores"`
		Warnings []ImportWarning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	assert.Equal(t, "dap-an.xlsx", data.Filename)
	assert.Equal(t, AllAnswers{"101": {"q1": "C"}}, data.Answers)
	assert.Equal(t, ScoreMap{"q1": 1}, data.Scores)
	require.Len(t, data.Warnings, 1)
	assert.Equal(t, WarningUnknownLabel, data.Warnings[0].Code)
	assert.Equal(t, 3, data.Warnings[0].Row)
}

func TestHandlerImportRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("template", sampleTemplateJSON))
	fw, err := mw.CreateFormFile("file", "x.xlsx")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("plain text"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	NewHandler(NewService(NewMemoryRepository(), ValueValidator{}), 1<<20).Import(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerLoadExistingNotFound(t *testing.T) {
	h := NewHandler(NewService(NewMemoryRepository(), ValueValidator{}), 0)

	body := `{"template":` + sampleTemplateJSON + `}`
	req := withCode(httptest.NewRequest(http.MethodPost, "/api/v1/exams/NONE/answer-key/load", bytes.NewBufferString(body)), "NONE")
	w := httptest.NewRecorder()
	h.LoadExisting(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeAnswerKeyNotFound, env.Error.Code)
}

func TestHandlerGradeRequiresKeySource(t *testing.T) {
	h := NewHandler(&mockAnswerKeyService{}, 0)
	body := `{"template":` + sampleTemplateJSON + `,"marks":{"q1":"A"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-keys/grade", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Grade(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerRejectsOversizedBody(t *testing.T) {
	h := NewHandler(&mockAnswerKeyService{}, 64)

	body := bytes.Repeat([]byte(" "), 128)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/validate", bytes.NewReader(append(body, sampleTemplateJSON...)))
	w := httptest.NewRecorder()
	h.ValidateTemplate(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "payload_too_large", env.Error.Code)
}
