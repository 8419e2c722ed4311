package answerkey

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"omrkey/internal/template"
)

// Service is the boundary used by the HTTP handler. Everything except
// Submit, LoadExisting and stored-key grading is pure computation over the
// template sent with the request.
type Service struct {
	repo           Repository
	validator      ValueValidator
	defaultVariant string
	recorder       Recorder
}

// Recorder counts answer-key outcomes. Submissions are counted as
// "accepted" or by the error code that rejected them; import warnings by
// warning code.
type Recorder interface {
	CountSubmission(outcome string)
	CountImportWarning(code string)
}

type nopRecorder struct{}

func (nopRecorder) CountSubmission(string)    {}
func (nopRecorder) CountImportWarning(string) {}

type ServiceOption func(*Service)

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithDefaultVariant(code string) ServiceOption {
	return func(s *Service) {
		if ValidateVariantCode(code) == nil {
			s.defaultVariant = code
		}
	}
}

func NewService(repo Repository, validator ValueValidator, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, validator: validator, defaultVariant: DefaultVariantCode, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type TemplateReport struct {
	Valid       bool                      `json:"valid"`
	Issues      []template.StructureError `json:"issues"`
	Fingerprint string                    `json:"fingerprint"`
}

type TemplateOverview struct {
	Questions   *template.QuestionIndex `json:"questions"`
	Groups      *Groups                 `json:"groups"`
	Conflicts   []string                `json:"conflicts,omitempty"`
	Fingerprint string                  `json:"fingerprint"`
}

type ValueCheck struct {
	FieldType template.FieldType `json:"field_type"`
	Value     string             `json:"value"`
	Valid     bool               `json:"valid"`
	Reason    string             `json:"reason,omitempty"`
}

type DistributeResult struct {
	BaseKey string   `json:"base_key"`
	Scores  ScoreMap `json:"scores"`
	RollUp  float64  `json:"roll_up"`
	Total   float64  `json:"total"`
}

type GradeInput struct {
	Template *template.Template
	ExamCode string
	Variant  string
	Answers  AllAnswers
	Scores   ScoreMap
	Marks    map[string]string
}

type SubmitInput struct {
	ExamCode    string
	Template    *template.Template
	TotalPoints float64
	Answers     AllAnswers
	Scores      ScoreMap
}

type LoadResult struct {
	ExamCode    string          `json:"exam_code"`
	TotalPoints float64         `json:"total_points"`
	Answers     AllAnswers      `json:"answers"`
	Scores      ScoreMap        `json:"scores"`
	Warnings    []ImportWarning `json:"warnings"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s *Service) ValidateTemplate(t *template.Template) (*TemplateReport, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	fp, err := template.Fingerprint(t)
	if err != nil {
		return nil, err
	}
	issues := template.Validate(t)
	if issues == nil {
		issues = []template.StructureError{}
	}
	return &TemplateReport{Valid: len(issues) == 0, Issues: issues, Fingerprint: fp}, nil
}

// Overview numbers the template's questions and groups them for scoring.
func (s *Service) Overview(t *template.Template) (*TemplateOverview, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	fp, err := template.Fingerprint(t)
	if err != nil {
		return nil, err
	}
	idx := template.BuildIndex(t)
	groups := GroupForScoring(idx)
	return &TemplateOverview{
		Questions:   idx,
		Groups:      groups,
		Conflicts:   groups.Conflicts(),
		Fingerprint: fp,
	}, nil
}

func (s *Service) CheckValue(ft template.FieldType, value string) ValueCheck {
	out := ValueCheck{FieldType: ft, Value: value}
	if err := s.validator.Check(ft, CleanCell(value)); err != nil {
		out.Reason = err.Error()
		return out
	}
	out.Valid = true
	return out
}

func (s *Service) DefaultScores(t *template.Template, total float64) (ScoreMap, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	if err := checkPoints(total); err != nil {
		return nil, err
	}
	return ApplyDefaultScores(template.BuildIndex(t), total), nil
}

// DistributeScore sets the score of the group keyed baseKey to total and
// returns the updated map.
func (s *Service) DistributeScore(t *template.Template, baseKey string, total float64, scores ScoreMap) (*DistributeResult, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	if err := checkPoints(total); err != nil {
		return nil, err
	}
	idx := template.BuildIndex(t)
	grp, ok := GroupForScoring(idx).Get(strings.TrimSpace(baseKey))
	if !ok {
		return nil, &UnknownLabelError{Label: baseKey}
	}
	next := Distribute(grp, total, nonNilScores(scores))
	return &DistributeResult{
		BaseKey: grp.BaseKey,
		Scores:  next,
		RollUp:  RollUp(grp, next),
		Total:   next.Total(),
	}, nil
}

// Export renders the answer key as an xlsx workbook.
func (s *Service) Export(t *template.Template, answers AllAnswers, scores ScoreMap) ([]byte, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	answers = nonNilAnswers(answers)
	if err := ValidateVariantCodes(answers.Variants()); err != nil {
		return nil, err
	}
	codec := NewCodec(template.BuildIndex(t), s.validator)
	return WriteWorkbook(codec.Export(answers, nonNilScores(scores)))
}

func (s *Service) ExportBlank(t *template.Template, variants []string) ([]byte, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	if err := ValidateVariantCodes(variants); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		variants = []string{s.defaultVariant}
	}
	codec := NewCodec(template.BuildIndex(t), s.validator)
	return WriteWorkbook(codec.Blank(variants))
}

// Import reads an uploaded workbook. Row problems are warnings; only an
// unreadable file is an error.
func (s *Service) Import(t *template.Template, r io.Reader) (*ImportResult, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	sheets, err := ReadWorkbook(r)
	if err != nil {
		return nil, err
	}
	res := NewCodec(template.BuildIndex(t), s.validator).Import(sheets)
	for _, w := range res.Warnings {
		s.recorder.CountImportWarning(string(w.Code))
	}
	return &res, nil
}

// Grade scores detected marks. When in.Answers is empty the key stored for
// in.ExamCode is used.
func (s *Service) Grade(ctx context.Context, in GradeInput) (*GradeResult, error) {
	if in.Template == nil {
		return nil, ErrTemplateRequired
	}
	answers, scores := in.Answers, in.Scores
	if len(answers) == 0 && strings.TrimSpace(in.ExamCode) != "" {
		rec, err := s.repo.LoadAnswerKey(ctx, in.ExamCode)
		if err != nil {
			return nil, err
		}
		answers, scores = rec.Answers, rec.Scores
	}

	variant := strings.TrimSpace(in.Variant)
	if variant == "" {
		variant = s.defaultVariant
	}
	key, ok := answers[variant]
	if !ok {
		return nil, fmt.Errorf("%w: no answers for variant %q", ErrInvalidVariantCode, variant)
	}

	groups := GroupForScoring(template.BuildIndex(in.Template))
	res := GradeSheet(groups, variant, key, nonNilScores(scores), in.Marks)
	return &res, nil
}

// Submit validates the whole answer key and persists it. Template problems,
// label and value problems, and a score total off by more than
// ScoreTolerance each block the submission.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Record, error) {
	rec, err := s.submit(ctx, in)
	switch {
	case err == nil:
		s.recorder.CountSubmission("accepted")
	case IsClientError(err):
		s.recorder.CountSubmission(ErrorCode(err))
	default:
		s.recorder.CountSubmission("failed")
	}
	return rec, err
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (*Record, error) {
	code := strings.TrimSpace(in.ExamCode)
	if code == "" {
		return nil, ErrInvalidExamCode
	}
	if in.Template == nil {
		return nil, ErrTemplateRequired
	}
	if err := checkPoints(in.TotalPoints); err != nil {
		return nil, err
	}
	if err := template.ValidationErr(in.Template); err != nil {
		return nil, err
	}

	store := NewStore(template.BuildIndex(in.Template), s.validator)
	if err := store.Replace(nonNilAnswers(in.Answers), nonNilScores(in.Scores)); err != nil {
		return nil, err
	}
	if err := CheckScoreTotal(store.Scores(), in.TotalPoints); err != nil {
		return nil, err
	}

	fp, err := template.Fingerprint(in.Template)
	if err != nil {
		return nil, err
	}
	saved, err := s.repo.SaveAnswerKey(ctx, Record{
		ExamCode:            code,
		TemplateFingerprint: fp,
		TotalPoints:         in.TotalPoints,
		Answers:             store.Answers(),
		Scores:              store.Scores(),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("answer key saved exam=%s variants=%d labels=%d", code, len(saved.Answers), len(saved.Scores))
	return saved, nil
}

// LoadExisting returns the stored answer key restricted to what the current
// template still has. Dropped entries and a changed template are reported as
// warnings.
func (s *Service) LoadExisting(ctx context.Context, examCode string, t *template.Template) (*LoadResult, error) {
	if t == nil {
		return nil, ErrTemplateRequired
	}
	rec, err := s.repo.LoadAnswerKey(ctx, examCode)
	if err != nil {
		return nil, err
	}

	var warnings []ImportWarning
	fp, err := template.Fingerprint(t)
	if err != nil {
		return nil, err
	}
	if rec.TemplateFingerprint != "" && rec.TemplateFingerprint != fp {
		warnings = append(warnings, ImportWarning{
			Code:    WarningTemplateDrift,
			Message: "template changed since the answer key was saved",
		})
	}

	answers, scores, dropped := FilterToIndex(rec.Answers, rec.Scores, template.BuildIndex(t), s.validator)
	warnings = append(warnings, dropped...)
	if warnings == nil {
		warnings = []ImportWarning{}
	}
	return &LoadResult{
		ExamCode:    rec.ExamCode,
		TotalPoints: rec.TotalPoints,
		Answers:     answers,
		Scores:      scores,
		Warnings:    warnings,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func checkPoints(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidScore, v)
	}
	return nil
}

// IsClientError reports whether err comes from bad input rather than from
// storage.
func IsClientError(err error) bool {
	code := ErrorCode(err)
	return code != "" && code != CodeAnswerKeyNotFound
}
