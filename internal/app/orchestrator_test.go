package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tivotools/tivofetch/internal/domain"
)

type fakeIndex struct {
	matches []domain.RecordingMatch
	err     error
}

func (f *fakeIndex) Find(ctx context.Context, title, episode string) ([]domain.RecordingMatch, error) {
	return f.matches, f.err
}

type fakeResolver struct {
	season, number int
	err            error
	calls          int
}

func (f *fakeResolver) Resolve(ctx context.Context, series, episode string) (int, int, error) {
	f.calls++
	return f.season, f.number, f.err
}

// fakeTransfer creates the destination file so that skip logic can be
// exercised across runs.
type fakeTransfer struct {
	fetched []string
	err     error
}

func (f *fakeTransfer) Fetch(ctx context.Context, match domain.RecordingMatch, destPath string) error {
	if f.err != nil {
		return f.err
	}
	f.fetched = append(f.fetched, destPath)
	return os.WriteFile(destPath, []byte("recording"), 0o644)
}

func newTestOrchestrator(index *fakeIndex, resolver *fakeResolver, transfer *fakeTransfer) *Orchestrator {
	o := NewOrchestrator(testLogger(), index, nil, transfer).WithPause(0)
	if resolver != nil {
		o.resolver = resolver
	}
	return o
}

func TestOrchestrator_MovieDownload(t *testing.T) {
	destDir := t.TempDir()
	index := &fakeIndex{matches: []domain.RecordingMatch{{Title: "Toy Story", Link: "https://device/1"}}}
	transfer := &fakeTransfer{}

	res, err := newTestOrchestrator(index, nil, transfer).Run(context.Background(), FetchRequest{
		Title:   "Toy Story",
		DestDir: destDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Changed {
		t.Fatal("expected changed=true after a download")
	}
	if res.Msg != "1 recording(s) downloaded successfully" {
		t.Fatalf("unexpected message: %q", res.Msg)
	}
	if len(transfer.fetched) != 1 || filepath.Base(transfer.fetched[0]) != "Toy Story.TiVo" {
		t.Fatalf("unexpected transfers: %v", transfer.fetched)
	}
}

func TestOrchestrator_EnrichedEpisodeFilename(t *testing.T) {
	destDir := t.TempDir()
	index := &fakeIndex{matches: []domain.RecordingMatch{{
		Title:        "The Simpsons",
		EpisodeTitle: "Bart the General",
		Link:         "https://device/5",
	}}}
	resolver := &fakeResolver{season: 1, number: 1}
	transfer := &fakeTransfer{}

	res, err := newTestOrchestrator(index, resolver, transfer).Run(context.Background(), FetchRequest{
		Title:   "The Simpsons",
		Episode: "Bart the General",
		DestDir: destDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolver.calls != 1 {
		t.Fatalf("expected one enrichment call, got %d", resolver.calls)
	}
	if len(transfer.fetched) != 1 {
		t.Fatalf("expected one transfer, got %d", len(transfer.fetched))
	}
	if got := filepath.Base(transfer.fetched[0]); got != "The Simpsons - S01E01 - Bart the General.TiVo" {
		t.Fatalf("unexpected filename: %q", got)
	}
	if !res.Changed {
		t.Fatal("expected changed=true")
	}
}

func TestOrchestrator_UnresolvedNumbersStillDownload(t *testing.T) {
	destDir := t.TempDir()
	index := &fakeIndex{matches: []domain.RecordingMatch{{
		Title:        "The Simpsons",
		EpisodeTitle: "Bart the General",
		Link:         "https://device/5",
	}}}
	// Tolerant resolver: numbers unknown, no error.
	resolver := &fakeResolver{}
	transfer := &fakeTransfer{}

	_, err := newTestOrchestrator(index, resolver, transfer).Run(context.Background(), FetchRequest{
		Title:   "The Simpsons",
		Episode: "Bart the General",
		DestDir: destDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := filepath.Base(transfer.fetched[0]); got != "The Simpsons - Bart the General.TiVo" {
		t.Fatalf("unexpected filename: %q", got)
	}
}

func TestOrchestrator_SecondRunSkips(t *testing.T) {
	destDir := t.TempDir()
	index := &fakeIndex{matches: []domain.RecordingMatch{{Title: "Toy Story", Link: "https://device/1"}}}
	transfer := &fakeTransfer{}
	orch := newTestOrchestrator(index, nil, transfer)

	if _, err := orch.Run(context.Background(), FetchRequest{Title: "Toy Story", DestDir: destDir}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	res, err := orch.Run(context.Background(), FetchRequest{Title: "Toy Story", DestDir: destDir})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Changed {
		t.Fatal("second run must report changed=false")
	}
	if res.Msg != "1 recording(s) skipped" {
		t.Fatalf("unexpected message: %q", res.Msg)
	}
	if len(transfer.fetched) != 1 {
		t.Fatalf("second run must not transfer again: %v", transfer.fetched)
	}
}

func TestOrchestrator_ZeroMatchesIsFatal(t *testing.T) {
	index := &fakeIndex{}
	_, err := newTestOrchestrator(index, nil, &fakeTransfer{}).Run(context.Background(), FetchRequest{
		Title:   "Unknown",
		DestDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected an error for zero matches")
	}
	if !strings.Contains(err.Error(), "No recordings were found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestrator_EnrichmentFailureAbortsRun(t *testing.T) {
	index := &fakeIndex{matches: []domain.RecordingMatch{{
		Title:        "The Simpsons",
		EpisodeTitle: "Bart the General",
		Link:         "https://device/5",
	}}}
	resolver := &fakeResolver{err: &CodedError{Code: "not_found", Message: `The episode "Bart the General" could not be found on The TVDB`}}
	transfer := &fakeTransfer{}

	_, err := newTestOrchestrator(index, resolver, transfer).Run(context.Background(), FetchRequest{
		Title:   "The Simpsons",
		Episode: "Bart the General",
		DestDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected the run to abort")
	}
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != "not_found" {
		t.Fatalf("expected the resolver error, got %v", err)
	}
	if len(transfer.fetched) != 0 {
		t.Fatal("no transfer may run after a fatal enrichment failure")
	}
}

// End-to-end against a fake device and catalog: the orchestrator drives the
// real index, resolver and transfer.
func TestOrchestrator_EndToEnd(t *testing.T) {
	payload := []byte("mpeg-ts bytes")
	device, _ := newListingServer(t, map[int]listingPage{
		0: {items: []string{episodeItem("The Simpsons", "Bart the General", "https://placeholder/download?id=5")}},
	})

	download := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(download.Close)

	// The listing carries a placeholder link; rewrite pages to point at the
	// download server instead.
	device.Config.Handler = rewriteLinks(device.Config.Handler, "https://placeholder", download.URL)

	catalog := newTVDBServer(t)

	logger := testLogger()
	gateway := NewGateway(logger)
	index := NewTivoIndex(logger, gateway, "ignored", "mak").WithBaseURL(device.URL)
	resolver := NewTVDBClient(logger, gateway, testCreds(), true).WithEndpoint(catalog.URL)
	transfer := NewTransfer(logger, gateway, "mak")

	destDir := t.TempDir()
	res, err := NewOrchestrator(logger, index, resolver, transfer).WithPause(0).Run(context.Background(), FetchRequest{
		Title:   "The Simpsons",
		Episode: "Bart the General",
		DestDir: destDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Changed {
		t.Fatal("expected changed=true")
	}

	want := filepath.Join(destDir, "The Simpsons - S01E05 - Bart the General.TiVo")
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %q: %v", want, err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected file content: %q", got)
	}
}

func rewriteLinks(next http.Handler, from, to string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, r)
		body := strings.ReplaceAll(rec.Body.String(), from, to)
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write([]byte(body))
	})
}
