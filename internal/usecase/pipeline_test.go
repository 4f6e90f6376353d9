package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/layout"
)

var (
	testLoc = time.FixedZone("CST", 8*60*60)
	testNow = time.Date(2024, 3, 7, 10, 0, 0, 0, testLoc)
)

const (
	urlA = "https://mp.weixin.qq.com/s?__biz=MzA&mid=1&sn=aaa111"
	urlB = "https://mp.weixin.qq.com/s?__biz=MzA&mid=2&sn=bbb222"
	urlC = "https://mp.weixin.qq.com/s?__biz=MzA&mid=3&sn=ccc333"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memStore
	fetcher  *fakeFetcher
	root     string
}

func newFixture(t *testing.T, mutate func(*PipelineDeps)) pipelineFixture {
	t.Helper()

	store := newMemStore()
	fetcher := &fakeFetcher{}
	root := filepath.Join(t.TempDir(), "output")
	deps := PipelineDeps{
		Store:    store,
		Fetcher:  fetcher,
		Output:   layout.New(root),
		Location: testLoc,
		Clock:    func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	return pipelineFixture{pipeline: NewPipeline(deps), store: store, fetcher: fetcher, root: root}
}

func testSource(adapter *fakeAdapter) Source {
	return Source{
		Meta: domain.SourceMeta{
			Name:     "bjfb",
			Province: "北京",
			City:     "北京",
			Site:     "北京发布",
			Category: "公众号",
		},
		Adapter: adapter,
		Recency: true,
	}
}

func todayCandidates(urls ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(urls))
	for i, u := range urls {
		out[i] = domain.Candidate{URL: u, Title: "t" + u[len(u)-3:], PublishedAt: testNow.Add(-time.Hour)}
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlB)}

	first, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, first.State)
	assert.Equal(t, 2, first.Inserted)

	second, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{RunID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SkippedDuplicate)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, fx.store.saveCalls, "second run must not flush an empty batch")
	assert.Equal(t, 2, fx.store.count())
	assert.Len(t, adapter.fetchedURLs(), 2)
}

func TestFlushIgnoresConflictingRows(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	fx.store.blind = true
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlB)}

	_, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	second, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, fx.store.saveCalls)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, fx.store.count())
}

func TestRecencyBoundary(t *testing.T) {
	t.Parallel()

	midnight := time.Date(2024, 3, 7, 0, 0, 0, 0, testLoc)
	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: []domain.Candidate{
		{URL: urlA, PublishedAt: midnight.Add(-time.Second)},
		{URL: urlB, PublishedAt: midnight},
		{URL: urlC, PublishedAt: midnight.Add(time.Second)},
		{URL: "https://mp.weixin.qq.com/s?sn=nodate"},
	}}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Listed)
	assert.Equal(t, 2, summary.SkippedOld)
	assert.Equal(t, 2, summary.IngestedFull)
	assert.ElementsMatch(t, []string{urlB, urlC}, adapter.fetchedURLs())
}

func TestRecencyDisabledKeepsUndatedCandidates(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: []domain.Candidate{{URL: urlA}, {URL: urlB, PublishedAt: testNow.AddDate(-1, 0, 0)}}}
	src := testSource(adapter)
	src.Recency = false

	summary, err := fx.pipeline.Run(context.Background(), src, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.SkippedOld)
	assert.Equal(t, 2, summary.IngestedFull)
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA, urlB, urlC),
		detailErr:  map[string]error{urlB: errors.New("unexpected status 502")},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, 1, fx.store.saveCalls)
	batch := fx.store.batches[0]
	require.Len(t, batch, 3)
	assert.False(t, batch[0].IsDegraded())
	assert.True(t, batch[1].IsDegraded())
	assert.False(t, batch[2].IsDegraded())

	degraded := batch[1]
	assert.Equal(t, urlB, degraded.PageURL)
	assert.Equal(t, "公众号", degraded.Category)
	assert.Equal(t, "北京", degraded.Province)
	assert.Equal(t, testNow, degraded.CreatedTime)

	assert.Equal(t, 2, summary.IngestedFull)
	assert.Equal(t, 1, summary.IngestedDegraded)
	assert.Equal(t, 3, summary.Inserted)
}

func TestExtractionFailureDegrades(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA),
		extractErr: map[string]error{urlA: errors.New("detail root not found")},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IngestedDegraded)
	assert.True(t, fx.store.batches[0][0].IsDegraded())
}

func TestFullRecordFields(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA),
		screenshot: []byte("png"),
	}

	_, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	rec := fx.store.batches[0][0]
	require.NotNil(t, rec.Title)
	assert.Equal(t, "Title of "+urlA, *rec.Title)
	require.NotNil(t, rec.Content)
	assert.Equal(t, "first line\nsecond line", *rec.Content)
	require.NotNil(t, rec.PageSource)
	assert.Equal(t, "北京发布", *rec.PageSource)
	require.NotNil(t, rec.PageReleaseDate)
	assert.True(t, rec.PageReleaseDate.Equal(time.Date(2024, 3, 7, 9, 30, 0, 0, testLoc)))
	require.NotNil(t, rec.RecordPath)
	assert.Equal(t, "output/北京发布/公众号/snaaa111/record", *rec.RecordPath)
	assert.Nil(t, rec.AttachmentName)
	assert.Nil(t, rec.AttachmentPath)

	recordDir := filepath.Join(fx.root, "北京发布", "公众号", "snaaa111", "record")
	assert.FileExists(t, filepath.Join(recordDir, "snaaa111.html"))
	assert.FileExists(t, filepath.Join(recordDir, "snaaa111.png"))
}

func TestAttachmentAllowList(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA),
		attachments: []domain.AttachmentRef{
			{URL: "https://files.example/setup.exe", Extension: "exe", Naming: domain.NameSuggested},
			{URL: "https://files.example/notice.pdf", SuggestedName: "通知", Extension: "PDF", Naming: domain.NameSuggested},
		},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://files.example/notice.pdf"}, fx.fetcher.calls)
	rec := fx.store.batches[0][0]
	require.NotNil(t, rec.AttachmentName)
	assert.Equal(t, "通知.pdf", *rec.AttachmentName)
	require.NotNil(t, rec.AttachmentPath)
	assert.Equal(t, "output/北京发布/公众号/snaaa111/attachment", *rec.AttachmentPath)
	assert.Equal(t, 1, summary.AttachmentsSaved)
	assert.Equal(t, 0, summary.AttachmentsFailed)
	assert.FileExists(t, filepath.Join(fx.root, "北京发布", "公众号", "snaaa111", "attachment", "通知.pdf"))
}

func TestCollidingAttachmentNamesGetDistinctFiles(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA),
		attachments: []domain.AttachmentRef{
			{URL: "https://files.example/1.pdf", SuggestedName: "a", Extension: "pdf", Naming: domain.NameSuggested},
			{URL: "https://files.example/2.pdf", SuggestedName: "a", Extension: "pdf", Naming: domain.NameSuggested},
			{URL: "https://files.example/3.pdf", SuggestedName: "a_2", Extension: "pdf", Naming: domain.NameSuggested},
		},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	rec := fx.store.batches[0][0]
	require.NotNil(t, rec.AttachmentName)
	assert.Equal(t, "a.pdf, a_2.pdf, a_2_2.pdf", *rec.AttachmentName)
	assert.Equal(t, 3, summary.AttachmentsSaved)

	entries, err := os.ReadDir(filepath.Join(fx.root, "北京发布", "公众号", "snaaa111", "attachment"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRetryExhaustionKeepsRecord(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	fx.fetcher.fail = map[string]bool{"https://img.example/1": true}
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA),
		attachments: []domain.AttachmentRef{
			{URL: "https://img.example/1", Extension: "jpeg", Naming: domain.NameSequential},
			{URL: "https://img.example/2", Extension: "gif", Naming: domain.NameSequential},
			{URL: "https://img.example/3", Extension: "png", Naming: domain.NameSequential},
		},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	rec := fx.store.batches[0][0]
	require.NotNil(t, rec.AttachmentName)
	assert.Equal(t, "img_2.png", *rec.AttachmentName)
	assert.NotNil(t, rec.Title)
	assert.NotNil(t, rec.Content)
	assert.NotNil(t, rec.PageReleaseDate)
	assert.Equal(t, 1, summary.AttachmentsSaved)
	assert.Equal(t, 1, summary.AttachmentsFailed)
	assert.NotContains(t, fx.fetcher.calls, "https://img.example/2")
}

func TestDedupShortCircuit(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	fx.store.rows[urlA] = domain.PageRecord{PageURL: urlA}
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlB)}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{urlB}, adapter.fetchedURLs())
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Equal(t, 1, summary.Inserted)
}

func TestDuplicateWithinListingProcessedOnce(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlA)}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{urlA}, adapter.fetchedURLs())
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Len(t, fx.store.batches[0], 1)
}

func TestSeenCacheShortCircuitsStore(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{seen: map[string]bool{urlA: true}}
	fx := newFixture(t, func(d *PipelineDeps) { d.Cache = cache })
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlB)}

	_, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{urlB}, fx.store.lookups)
	assert.Equal(t, []string{urlB}, cache.remembered)
}

func TestSeenCacheErrorsFallBackToStore(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{err: errors.New("redis: connection refused")}
	fx := newFixture(t, func(d *PipelineDeps) { d.Cache = cache })
	adapter := &fakeAdapter{candidates: todayCandidates(urlA)}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{urlA}, fx.store.lookups)
	assert.Equal(t, 1, summary.Inserted)
}

func TestStoreErrorAbortsRun(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	fx.store.existsErr = errors.New("connection refused")
	adapter := &fakeAdapter{candidates: todayCandidates(urlA, urlB)}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.Error(t, err)

	var fatal *domain.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, domain.StageDedup, fatal.Stage)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, domain.StateAborted, summary.State)
	assert.NotEmpty(t, summary.AbortReason)
	assert.Empty(t, adapter.fetchedURLs())
	assert.Zero(t, fx.store.saveCalls)
}

func TestFlushErrorAbortsRun(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	fx.store.saveErr = errors.New("server closed the connection")
	adapter := &fakeAdapter{candidates: todayCandidates(urlA)}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.Error(t, err)

	var fatal *domain.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, domain.StageFlush, fatal.Stage)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, domain.StateAborted, summary.State)
}

func TestListingErrorAbortsRun(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{listErr: errors.New("get articles failed")}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.StateAborted, summary.State)
	assert.Zero(t, fx.store.saveCalls)
}

func TestEmptyCandidateURLIsContractViolation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: append(todayCandidates(urlA), domain.Candidate{URL: "  ", Title: "broken"})}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.ErrorIs(t, err, domain.ErrContractViolation)
	assert.Equal(t, domain.StateAborted, summary.State)
	assert.Empty(t, adapter.fetchedURLs())
	assert.Zero(t, fx.store.saveCalls)
}

func TestEmptyBatchSkipsFlush(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: []domain.Candidate{{URL: urlA, PublishedAt: testNow.AddDate(0, 0, -3)}}}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, summary.State)
	assert.Zero(t, fx.store.saveCalls)
}

func TestShutdownBeforeRunStartsNothing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: todayCandidates(urlA)}
	stop := NewShutdown()
	stop.Raise()

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{Shutdown: stop})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSkipped, summary.State)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, adapter.listCalls)
	assert.Zero(t, fx.store.saveCalls)
}

func TestShutdownFinishesCurrentCandidateAndFlushes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	stop := NewShutdown()
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA, urlB, urlC),
		onDetail:   func(string) { stop.Raise() },
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{Shutdown: stop})
	require.NoError(t, err)

	assert.Equal(t, []string{urlA}, adapter.fetchedURLs())
	assert.True(t, summary.Interrupted)
	assert.Equal(t, domain.StateDone, summary.State)
	require.Equal(t, 1, fx.store.saveCalls)
	require.Len(t, fx.store.batches[0], 1)
	assert.False(t, fx.store.batches[0][0].IsDegraded())
}

func TestDeadlineStopsBetweenCandidates(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := testNow
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	deadline := testNow.Add(time.Minute)

	fx := newFixture(t, func(d *PipelineDeps) { d.Clock = clock })
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA, urlB),
		onDetail: func(string) {
			mu.Lock()
			now = deadline.Add(time.Second)
			mu.Unlock()
		},
	}

	summary, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{Deadline: deadline})
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.IngestedFull)
	assert.Equal(t, 1, summary.Inserted)
}

func TestCancelledContextAbortsWithoutFlush(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA, urlB),
		onDetail:   func(string) { cancel() },
	}

	summary, err := fx.pipeline.Run(ctx, testSource(adapter), RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StateAborted, summary.State)
	assert.Zero(t, fx.store.saveCalls)
}

func TestMirrorReceivesItemDirectory(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{}
	fx := newFixture(t, func(d *PipelineDeps) { d.Mirror = mirror })
	adapter := &fakeAdapter{
		candidates: todayCandidates(urlA, urlB),
		detailErr:  map[string]error{urlB: errors.New("timeout")},
	}

	_, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"output/北京发布/公众号/snaaa111"}, mirror.prefixes)
}

func TestSuggestedAndUniqueNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ref  domain.AttachmentRef
		ext  string
		want string
	}{
		{"keeps matching extension", domain.AttachmentRef{SuggestedName: "附件1.PDF"}, "pdf", "附件1.PDF"},
		{"appends extension", domain.AttachmentRef{SuggestedName: "附件1"}, "docx", "附件1.docx"},
		{"falls back to url", domain.AttachmentRef{URL: "https://x.example/a/b/report.xlsx"}, "xlsx", "report.xlsx"},
		{"sanitizes", domain.AttachmentRef{SuggestedName: "a/b:c"}, "zip", "a_b_c.zip"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, suggestedName(tc.ref, tc.ext))
		})
	}

	used := map[string]int{}
	assert.Equal(t, "a.pdf", uniqueName("a.pdf", used))
	assert.Equal(t, "a_2.pdf", uniqueName("a.pdf", used))
	assert.Equal(t, "a_2_2.pdf", uniqueName("a_2.pdf", used), "a renamed file must not be reused")
	assert.Equal(t, "a_3.pdf", uniqueName("a.pdf", used))

	used = map[string]int{}
	assert.Equal(t, "a_2.pdf", uniqueName("a_2.pdf", used))
	assert.Equal(t, "a.pdf", uniqueName("a.pdf", used))
	assert.Equal(t, "a_3.pdf", uniqueName("a.pdf", used), "suffix taken by a suggested name is skipped")
}

func TestRecordFilesAreNotLeftPartial(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	adapter := &fakeAdapter{candidates: todayCandidates(urlA)}

	_, err := fx.pipeline.Run(context.Background(), testSource(adapter), RunOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(fx.root, "北京发布", "公众号", "snaaa111", "record"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snaaa111.html", entries[0].Name())
}
