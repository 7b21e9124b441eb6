package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/pkg/pii"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
	"github.com/fitflow/retention/internal/template"
)

type fakeRisk struct {
	score    *domain.RiskScore
	scoreErr error
	heatmap  *domain.Heatmap
	atRisk   []domain.RiskScore
	settings domain.RetentionSettings
	saved    *domain.RetentionSettings
	saveErr  error
}

func (f *fakeRisk) CalculateForMember(_ context.Context, _, _ string) (*domain.RiskScore, error) {
	return f.score, f.scoreErr
}

func (f *fakeRisk) GetScore(_ context.Context, _, _ string) (*domain.RiskScore, error) {
	return f.score, f.scoreErr
}

func (f *fakeRisk) BuildHeatmap(_ context.Context, _ string) (*domain.Heatmap, error) {
	return f.heatmap, nil
}

func (f *fakeRisk) FetchAtRiskMembers(_ context.Context, _ string, _ int) ([]domain.RiskScore, error) {
	return f.atRisk, nil
}

func (f *fakeRisk) EffectiveSettings(_ context.Context, orgID string) (domain.RetentionSettings, error) {
	if f.settings.OrganizationID == "" {
		return domain.DefaultRetentionSettings(orgID), nil
	}
	return f.settings, nil
}

func (f *fakeRisk) SaveSettings(_ context.Context, settings domain.RetentionSettings) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = &settings
	return nil
}

type fakePlaybooks struct {
	pb            *domain.Playbook
	getErr        error
	list          []domain.Playbook
	listTotal     int
	created       *playbook.CreateInput
	createErr     error
	transitionErr error
	exec          *domain.PlaybookExecution
	triggerErr    error
	execs         []domain.PlaybookExecution
	execsTotal    int
	execFilter    playbook.ExecutionFilter
	policy        domain.CommunicationPolicy
	savedPolicy   *domain.CommunicationPolicy
	optOuts       []string
	winBack       int
	sweep         *playbook.SweepResult
	sweepOpts     risk.BatchOptions
}

func (f *fakePlaybooks) Get(_ context.Context, _, _ string) (*domain.Playbook, error) {
	return f.pb, f.getErr
}

func (f *fakePlaybooks) List(_ context.Context, _ string, _ playbook.ListFilter) ([]domain.Playbook, int, error) {
	return f.list, f.listTotal, nil
}

func (f *fakePlaybooks) Create(_ context.Context, _ string, input playbook.CreateInput) (*domain.Playbook, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &input
	return f.pb, nil
}

func (f *fakePlaybooks) Update(_ context.Context, _, _ string, _ playbook.UpdateFields) error {
	return nil
}

func (f *fakePlaybooks) Activate(_ context.Context, _, _ string) error { return f.transitionErr }
func (f *fakePlaybooks) Pause(_ context.Context, _, _ string) error    { return f.transitionErr }
func (f *fakePlaybooks) Archive(_ context.Context, _, _ string) error  { return f.transitionErr }

func (f *fakePlaybooks) ListExecutions(_ context.Context, _ string, filter playbook.ExecutionFilter) ([]domain.PlaybookExecution, int, error) {
	f.execFilter = filter
	return f.execs, f.execsTotal, nil
}

func (f *fakePlaybooks) EffectiveCommunicationPolicy(_ context.Context, orgID string) (domain.CommunicationPolicy, error) {
	if f.policy.OrganizationID == "" {
		return domain.DefaultCommunicationPolicy(orgID), nil
	}
	return f.policy, nil
}

func (f *fakePlaybooks) SaveCommunicationPolicy(_ context.Context, p domain.CommunicationPolicy) error {
	f.savedPolicy = &p
	return nil
}

func (f *fakePlaybooks) OptOut(_ context.Context, _, memberID string, channel domain.Channel, _ domain.OptOutScope) error {
	f.optOuts = append(f.optOuts, memberID+":"+string(channel))
	return nil
}

func (f *fakePlaybooks) TriggerForMember(_ context.Context, _, _, _ string, _ json.RawMessage) (*domain.PlaybookExecution, error) {
	return f.exec, f.triggerErr
}

func (f *fakePlaybooks) TriggerForRecentCancels(_ context.Context, _ string, _ int) (int, error) {
	return f.winBack, nil
}

func (f *fakePlaybooks) RecalculateAndTrigger(_ context.Context, _ string, opts risk.BatchOptions) (*playbook.SweepResult, error) {
	f.sweepOpts = opts
	if f.sweep == nil {
		return &playbook.SweepResult{Batch: &risk.BatchResult{}}, nil
	}
	return f.sweep, nil
}

func (f *fakePlaybooks) ResolveFreeze(_ context.Context, _, _ string) (*domain.PlaybookExecution, error) {
	return f.exec, f.triggerErr
}

type fakeTemplates struct {
	tmpl *domain.MessageTemplate
	err  error
}

func (f *fakeTemplates) GetTemplate(_ context.Context, _, _ string) (*domain.MessageTemplate, error) {
	return f.tmpl, f.err
}

func (f *fakeTemplates) ListTemplates(_ context.Context, _ string) ([]domain.MessageTemplate, error) {
	if f.tmpl == nil {
		return nil, nil
	}
	return []domain.MessageTemplate{*f.tmpl}, nil
}

func (f *fakeTemplates) CreateTemplate(_ context.Context, t *domain.MessageTemplate) error {
	f.tmpl = t
	return f.err
}

type fakePreviewer struct {
	out string
	err error
}

func (f *fakePreviewer) RenderPreview(_ string, _ map[string]any) (string, error) {
	return f.out, f.err
}

type fakeMessages struct {
	msgs []domain.Message
}

func (f *fakeMessages) ListForMember(_ context.Context, _, _ string, _ int) ([]domain.Message, error) {
	return f.msgs, nil
}

type fakeDirectory struct {
	member     *domain.Member
	err        error
	lookupHash string
}

func (f *fakeDirectory) FindMemberByContactHash(_ context.Context, _, hash string) (*domain.Member, error) {
	f.lookupHash = hash
	return f.member, f.err
}

type testServer struct {
	*Server
	risk      *fakeRisk
	playbooks *fakePlaybooks
	templates *fakeTemplates
	previewer *fakePreviewer
	messages  *fakeMessages
	directory *fakeDirectory
}

func newTestServer() *testServer {
	ts := &testServer{
		risk:      &fakeRisk{},
		playbooks: &fakePlaybooks{},
		templates: &fakeTemplates{},
		previewer: &fakePreviewer{out: "rendered"},
		messages:  &fakeMessages{},
		directory: &fakeDirectory{},
	}
	ts.Server = NewServer(ts.risk, ts.playbooks, ts.templates, ts.previewer, ts.messages, ts.directory)
	return ts
}

func do(t *testing.T, ts *testServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRecalculatePassesOptions(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.sweep = &playbook.SweepResult{
		Batch:     &risk.BatchResult{NextCursor: "m-500"},
		Evaluated: 300,
		Triggered: 12,
	}

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/risk/recalculate",
		map[string]any{"cursor": "m-200", "batch_size": 300})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m-200", ts.playbooks.sweepOpts.Cursor)
	assert.Equal(t, 300, ts.playbooks.sweepOpts.BatchSize)

	var resp struct {
		Data playbook.SweepResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "m-500", resp.Data.Batch.NextCursor)
	assert.Equal(t, 12, resp.Data.Triggered)
}

func TestRecalculateNoBody(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/risk/recalculate", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, ts.playbooks.sweepOpts.BatchSize)
}

func TestHeatmap(t *testing.T) {
	ts := newTestServer()
	ts.risk.heatmap = &domain.Heatmap{Low: 10, High: 3, Unbucketed: 1}

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/risk/heatmap", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data domain.Heatmap `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Data.Low)
	assert.Equal(t, 1, resp.Data.Unbucketed)
}

func TestGetMemberScoreNotFound(t *testing.T) {
	ts := newTestServer()
	ts.risk.scoreErr = risk.ErrNotFound

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/members/m-1/risk-score", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutRetentionSettingsMergesOverCurrent(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPut, "/api/orgs/org-1/settings/retention",
		map[string]any{"streak_break_days": 21})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.risk.saved)
	assert.Equal(t, 21, ts.risk.saved.StreakBreakDays)
	assert.Equal(t, "org-1", ts.risk.saved.OrganizationID)
	// Untouched fields keep the engine defaults.
	assert.Equal(t, 35, ts.risk.saved.Weights.Inactivity)
}

func TestPutRetentionSettingsInvalid(t *testing.T) {
	ts := newTestServer()
	ts.risk.saveErr = fmt.Errorf("%w: weights must be positive", risk.ErrInvalidSettings)

	rec := do(t, ts, http.MethodPut, "/api/orgs/org-1/settings/retention",
		map[string]any{"streak_break_days": -1})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlaybook(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.pb = &domain.Playbook{ID: "pb-1", Name: "Comeback nudge", Status: domain.PlaybookDraft}

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/playbooks/",
		map[string]any{"name": "Comeback nudge", "trigger_type": "no_check_in", "channel": "sms", "template_id": "tpl-1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, ts.playbooks.created)
	assert.Equal(t, domain.TriggerNoCheckIn, ts.playbooks.created.TriggerType)
}

func TestCreatePlaybookInvalidConfig(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.createErr = fmt.Errorf("%w: template_id is required", playbook.ErrInvalidConfig)

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/playbooks/",
		map[string]any{"name": "Broken"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivateConflict(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.transitionErr = playbook.ErrActiveConflict

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/playbooks/pb-1/activate", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerRequiresMemberID(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/playbooks/pb-1/trigger",
		map[string]any{"context": map[string]any{"days": 14}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerReturnsExecution(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.exec = &domain.PlaybookExecution{ID: "ex-1", Status: domain.ExecutionSent}

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/playbooks/pb-1/trigger",
		map[string]any{"member_id": "m-1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Data domain.PlaybookExecution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ExecutionSent, resp.Data.Status)
}

func TestListExecutionsPagination(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.execs = []domain.PlaybookExecution{{ID: "ex-1"}, {ID: "ex-2"}}
	ts.playbooks.execsTotal = 120

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/playbooks/pb-1/executions?limit=2&page=3", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pb-1", ts.playbooks.execFilter.PlaybookID)
	var resp PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Pagination.Page)
	assert.Equal(t, 120, resp.Pagination.Total)
	assert.Equal(t, 60, resp.Pagination.TotalPages)
	assert.True(t, resp.Pagination.HasMore)
}

func TestListMemberExecutions(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.execs = []domain.PlaybookExecution{{ID: "ex-1", MemberID: "m-1"}}
	ts.playbooks.execsTotal = 1

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/members/m-1/executions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m-1", ts.playbooks.execFilter.MemberID)
	assert.Empty(t, ts.playbooks.execFilter.PlaybookID)
}

func TestOptOut(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/members/m-1/opt-outs",
		map[string]any{"channel": "sms"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, ts.playbooks.optOuts, 1)
	assert.Equal(t, "m-1:sms", ts.playbooks.optOuts[0])
}

func TestOptOutMissingChannel(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodPost, "/api/orgs/org-1/members/m-1/opt-outs",
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutCommunicationPolicy(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPut, "/api/orgs/org-1/settings/communication",
		map[string]any{"daily_send_cap": 5})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.playbooks.savedPolicy)
	assert.Equal(t, 5, ts.playbooks.savedPolicy.DailySendCap)
	// Defaults survive a partial update.
	assert.Equal(t, 12, ts.playbooks.savedPolicy.WeeklySendCap)
}

func TestWinBackTrigger(t *testing.T) {
	ts := newTestServer()
	ts.playbooks.winBack = 4

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/win-back?days=45", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"triggered":4`)
}

func TestGetTemplateNotFound(t *testing.T) {
	ts := newTestServer()
	ts.templates.err = template.ErrNotFound

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/templates/tpl-missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTemplateRejectsBadLiquid(t *testing.T) {
	ts := newTestServer()
	ts.previewer.err = fmt.Errorf("unterminated tag")

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/templates/",
		map[string]any{"name": "Welcome", "body": "Hi {{ first_name"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTemplate(t *testing.T) {
	ts := newTestServer()

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/templates/",
		map[string]any{"name": "Welcome", "channel": "email", "subject": "Hey", "body": "Hi {{ first_name }}"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, ts.templates.tmpl)
	assert.Equal(t, "org-1", ts.templates.tmpl.OrganizationID)
	assert.NotEmpty(t, ts.templates.tmpl.ID)
}

func TestLookupMemberHashesContact(t *testing.T) {
	ts := newTestServer()
	ts.directory.member = &domain.Member{ID: "m-1", FirstName: "Ada"}

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/members/lookup?contact=Ada%40gym.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	// The handler hashes the normalized plaintext before it touches storage.
	assert.Equal(t, pii.Hash("ada@gym.com"), ts.directory.lookupHash)
	assert.Contains(t, rec.Body.String(), `"m-1"`)
}

func TestLookupMemberByHash(t *testing.T) {
	ts := newTestServer()
	ts.directory.member = &domain.Member{ID: "m-1"}
	h := pii.Hash("ada@gym.com")

	rec := do(t, ts, http.MethodGet, "/api/orgs/org-1/members/lookup?hash="+h, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, h, ts.directory.lookupHash)
}

func TestLookupMemberRequiresContact(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/api/orgs/org-1/members/lookup", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewTemplate(t *testing.T) {
	ts := newTestServer()
	ts.previewer.out = "Hi Ada"

	rec := do(t, ts, http.MethodPost, "/api/orgs/org-1/templates/preview",
		map[string]any{"source": "Hi {{ first_name }}", "vars": map[string]any{"first_name": "Ada"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hi Ada")
}
