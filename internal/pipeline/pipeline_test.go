package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/boq"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/config"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/resilience"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/store"
	"github.com/WattMatt/engi-ops-nexus-sub014/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

const testDoc = "Cover page\n" +
	"=== Sheet: Bill 1 - Electrical ===\n" +
	"Item\tDescription\tQty\tUnit\tRate\tAmount\n" +
	"A1\tSupply XLPE cable\t10\tm\t250\t2500\n" +
	"A2\tCable tray 300mm\t15\tm\t180\t3500\n" +
	"=== Sheet: Notes ===\n" +
	"N1\tContractor to verify quantities\t1\tsum\t100\t100\n"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	_, err = s.SeedCategories(ctx, []model.CategoryEntry{
		{ID: "cat-cab", Code: "CAB", Name: "Cables"},
		{ID: "cat-con", Code: "CON", Name: "Containment"},
	})
	require.NoError(t, err)
	_, err = s.SeedCatalog(ctx, []model.CatalogEntry{
		{ID: "mat-1", Code: "A1", Name: "Supply XLPE cable", CategoryID: "cat-cab", Unit: "M"},
	})
	require.NoError(t, err)
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 4096},
		Extraction: config.ExtractionConfig{
			RequestTimeoutSecs: 5,
			SheetConcurrency:   2,
			BatchSize:          1,
			JobTimeoutMins:     1,
		},
	}
}

func newTestPipeline(st store.Store, client anthropic.Client) *Pipeline {
	p := New(testConfig(), st, client, nil, nil)
	p.retry.InitialBackoff = time.Millisecond
	p.retry.MaxBackoff = 5 * time.Millisecond
	return p
}

func TestExtract_HeuristicEndToEnd(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)
	ctx := context.Background()

	summary, err := p.Extract(ctx, "bill.txt", testDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sheets)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 1, summary.MatchedItems)
	assert.Equal(t, 2, summary.ByMethod[model.MethodHeuristic])
	assert.Equal(t, 2, summary.Batches)
	assert.Zero(t, summary.EstimatedCost)

	job, err := st.GetJob(ctx, summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, "bill.txt", job.Source)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 1, job.MatchedItems)
	assert.NotNil(t, job.CompletedAt)

	items, err := st.ListItems(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	a1 := items[0]
	assert.Equal(t, 1, a1.Sequence)
	assert.Equal(t, "A1", a1.ItemCode)
	assert.Equal(t, "M", *a1.Unit)
	assert.Equal(t, 250.0, *a1.TotalRate)
	assert.True(t, a1.ArithmeticValid)
	assert.Equal(t, "cat-cab", a1.CategoryID)
	require.NotNil(t, a1.CatalogID)
	assert.Equal(t, "mat-1", *a1.CatalogID)
	assert.InDelta(t, 0.95, *a1.MatchConfidence, 1e-9)
	assert.Equal(t, model.ReviewStatusPending, a1.ReviewStatus)
	assert.Equal(t, model.MethodHeuristic, a1.RawData["method"])
	assert.Equal(t, "Bill 1 - Electrical", a1.RawData["sheet"])

	a2 := items[1]
	assert.Equal(t, 2, a2.Sequence)
	assert.False(t, a2.ArithmeticValid)
	assert.Contains(t, a2.Notes, "arithmetic mismatch")
	assert.Equal(t, 3500.0, *a2.Amount)
	assert.Nil(t, a2.CatalogID)

	for _, it := range items {
		assert.NotEqual(t, "N1", it.ItemCode)
		assert.Equal(t, job.ID, it.JobID)
		assert.NotEmpty(t, it.ID)
	}
}

func TestExtract_AIPathWithFilterAndCost(t *testing.T) {
	st := newTestStore(t)
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`[
		{"item_code":"A1","description":"Supply XLPE cable","quantity":10,"unit":"m","total_rate":250,"amount":2500,"category_code":"CAB","confidence":0.8},
		{"description":"Notes to tenderer: all rates include VAT"}
	]`), nil)
	p := newTestPipeline(st, client)

	summary, err := p.Extract(context.Background(), "bill.txt", testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ByMethod[model.MethodAI])
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.TotalItems)
	assert.Equal(t, 1000, summary.TokenUsage.InputTokens)
	assert.Equal(t, 200, summary.TokenUsage.OutputTokens)
	assert.InDelta(t, 0.002, summary.EstimatedCost, 1e-9)

	items, err := st.ListItems(context.Background(), summary.JobID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.MethodAI, items[0].RawData["method"])
	assert.Equal(t, "cat-cab", items[0].CategoryID)
	assert.InDelta(t, 0.95, *items[0].MatchConfidence, 1e-9)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExtract_MalformedAIFallsBackToHeuristic(t *testing.T) {
	st := newTestStore(t)
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I'm sorry, I cannot read this table."), nil)
	p := newTestPipeline(st, client)

	summary, err := p.Extract(context.Background(), "bill.txt", testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ByMethod[model.MethodHeuristic])
	assert.Zero(t, summary.ByMethod[model.MethodAI])

	job, err := st.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}

func TestExtract_AIErrorFallsBackToHeuristic(t *testing.T) {
	st := newTestStore(t)
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	p := newTestPipeline(st, client)

	summary, err := p.Extract(context.Background(), "bill.txt", testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 2, summary.ByMethod[model.MethodHeuristic])
}

func TestExtract_AllSheetsNonBillable(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)
	ctx := context.Background()

	doc := "=== Sheet: Notes ===\nA1\tSupply XLPE cable\t10\tm\t250\t2500\n" +
		"=== Sheet: Summary ===\nB1\tBill 1 carried\t1\tsum\t9000\t9000\n"
	summary, err := p.Extract(ctx, "notes.txt", doc)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sheets)
	assert.Equal(t, 0, summary.TotalItems)
	assert.Equal(t, 0, summary.Batches)

	job, err := st.GetJob(ctx, summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.TotalItems)

	items, err := st.ListItems(ctx, summary.JobID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExtract_NoMarkersUsesWholeText(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)

	doc := "A1\tSupply XLPE cable\t10\tm\t250\t2500\n"
	summary, err := p.Extract(context.Background(), "plain.txt", doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sheets)
	assert.Equal(t, 1, summary.TotalItems)
}

func TestExtract_EmptyDocument(t *testing.T) {
	p := newTestPipeline(newTestStore(t), nil)
	_, err := p.Extract(context.Background(), "empty.txt", "  \n ")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestSubmit_RunsInBackground(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, JobRequest{JobID: "job-1", Source: "bill.xlsx", Document: testDoc})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusProcessing, job.Status)

	p.Wait()

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, 1, got.MatchedItems)
}

func TestSubmit_ExistingPendingJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateJob(ctx, "job-2", "upload.xlsx")
	require.NoError(t, err)

	p := newTestPipeline(st, nil)
	job, err := p.Submit(ctx, JobRequest{JobID: "job-2", Document: testDoc})
	require.NoError(t, err)
	assert.Equal(t, "upload.xlsx", job.Source)
	p.Wait()

	got, err := st.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestSubmit_RejectsJobThatAlreadyRan(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)
	ctx := context.Background()

	_, err := p.Submit(ctx, JobRequest{JobID: "job-3", Document: testDoc})
	require.NoError(t, err)
	p.Wait()

	_, err = p.Submit(ctx, JobRequest{JobID: "job-3", Document: testDoc})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrJobNotPending))
}

func TestSubmit_RejectsFailedJobBeforeStarting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateJob(ctx, "job-5", "upload.xlsx")
	require.NoError(t, err)
	_, err = st.MarkJobProcessing(ctx, "job-5")
	require.NoError(t, err)
	require.NoError(t, st.FailJob(ctx, "job-5", "bad workbook"))

	p := newTestPipeline(st, nil)
	_, err = p.Submit(ctx, JobRequest{JobID: "job-5", Document: testDoc})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrJobNotPending))
	assert.Contains(t, err.Error(), "already failed")

	got, err := st.GetJob(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "bad workbook", got.Error)
}

func TestSubmit_EmptyDocument(t *testing.T) {
	p := newTestPipeline(newTestStore(t), nil)
	_, err := p.Submit(context.Background(), JobRequest{JobID: "job-4"})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

// flakyStore fails InsertItems according to failOn, counting calls.
type flakyStore struct {
	store.Store
	calls  atomic.Int32
	failOn func(call int32) error
}

func (s *flakyStore) InsertItems(ctx context.Context, items []model.ExtractedItem) error {
	if err := s.failOn(s.calls.Add(1)); err != nil {
		return err
	}
	return s.Store.InsertItems(ctx, items)
}

func TestRun_BatchFailureMarksJobFailed(t *testing.T) {
	st := &flakyStore{
		Store: newTestStore(t),
		failOn: func(call int32) error {
			if call == 2 {
				return eris.New("disk full")
			}
			return nil
		},
	}
	p := newTestPipeline(st, nil)

	_, err := p.Extract(context.Background(), "bill.txt", testDoc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert batch 2")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int32(2), st.calls.Load())
}

func TestRun_BatchFailureCleansUpJob(t *testing.T) {
	st := &flakyStore{
		Store: newTestStore(t),
		failOn: func(call int32) error {
			if call >= 2 {
				return eris.New("disk full")
			}
			return nil
		},
	}
	p := newTestPipeline(st, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, JobRequest{JobID: "job-5", Document: testDoc})
	require.NoError(t, err)
	p.Wait()

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")

	items, err := st.ListItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRun_TransientBatchErrorRetried(t *testing.T) {
	st := &flakyStore{
		Store: newTestStore(t),
		failOn: func(call int32) error {
			if call == 1 {
				return resilience.NewTransientError(eris.New("database is locked"), 0)
			}
			return nil
		},
	}
	p := newTestPipeline(st, nil)

	summary, err := p.Extract(context.Background(), "bill.txt", testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, int32(3), st.calls.Load())
}

func TestRun_CancelledContextFailsJob(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(st, nil)

	job, err := st.CreateJob(context.Background(), "job-6", "bill.txt")
	require.NoError(t, err)
	job, err = st.MarkJobProcessing(context.Background(), job.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, job, testDoc)
	require.Error(t, err)

	got, err := st.GetJob(context.Background(), "job-6")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
}

func TestMergeResults_NumbersAcrossSheets(t *testing.T) {
	byMethod := map[string]int{}
	items := mergeResults([]boq.SheetResult{
		{Method: model.MethodAI, Items: []model.ExtractedItem{{Description: "a"}, {Description: "b"}}},
		{},
		{Method: model.MethodHeuristic, Items: []model.ExtractedItem{{Description: "c"}}},
	}, byMethod)

	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, i+1, it.Sequence)
	}
	assert.Equal(t, "c", items[2].Description)
	assert.Equal(t, 2, byMethod[model.MethodAI])
	assert.Equal(t, 1, byMethod[model.MethodHeuristic])
}

func TestExtract_NotesSheetThenBill(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		wantValid bool
	}{
		{"arithmetic holds", "2500", true},
		{"amount 35 percent high", "3500", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			p := newTestPipeline(st, nil)
			ctx := context.Background()

			doc := "=== Sheet: Notes ===\n" +
				"N1\tAll rates to include delivery\t1\tsum\t100\t100\n" +
				"=== Sheet: Bill 2 - Cabling ===\n" +
				"A1\tSupply XLPE cable\t10\tm\t250\t" + tt.amount + "\n"

			summary, err := p.Extract(ctx, "two-sheets.txt", doc)
			require.NoError(t, err)

			items, err := st.ListItems(ctx, summary.JobID)
			require.NoError(t, err)
			require.Len(t, items, 1)

			it := items[0]
			assert.Equal(t, "M", *it.Unit)
			assert.Equal(t, 250.0, *it.TotalRate)
			assert.Equal(t, tt.wantValid, it.ArithmeticValid)
			if tt.wantValid {
				assert.Empty(t, it.Notes)
			} else {
				assert.Contains(t, it.Notes, "arithmetic mismatch")
			}
		})
	}
}
