package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ──────────────────── fakes ────────────────────

type fakeBlobs struct {
	root    string
	entries map[string]*models.CacheEntry
}

func newFakeBlobs(t *testing.T) *fakeBlobs {
	return &fakeBlobs{root: t.TempDir(), entries: map[string]*models.CacheEntry{}}
}

func (f *fakeBlobs) add(t *testing.T, data []byte, ext string) string {
	t.Helper()
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	rel := hash + ext
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), data, 0o644))
	f.entries[hash] = &models.CacheEntry{ContentHash: hash, RelPath: rel, SizeBytes: int64(len(data))}
	return hash
}

func (f *fakeBlobs) Entry(hash string) (*models.CacheEntry, error) { return f.entries[hash], nil }
func (f *fakeBlobs) AbsPath(e *models.CacheEntry) string           { return filepath.Join(f.root, e.RelPath) }

type fakeItems struct {
	nfoHashes   map[uuid.UUID]string
	unpublished map[uuid.UUID]bool
}

func newFakeItems() *fakeItems {
	return &fakeItems{nfoHashes: map[uuid.UUID]string{}, unpublished: map[uuid.UUID]bool{}}
}

func (f *fakeItems) SetNFOHash(id uuid.UUID, hash string) error {
	f.nfoHashes[id] = hash
	return nil
}

func (f *fakeItems) SetUnpublishedChanges(id uuid.UUID, pending bool) error {
	f.unpublished[id] = pending
	return nil
}

type fakeCandidates struct {
	selected []*models.AssetCandidate
}

func (f *fakeCandidates) ListSelected(uuid.UUID) ([]*models.AssetCandidate, error) {
	return f.selected, nil
}

type fakeRecords struct {
	published    map[string]*models.PublishedAsset
	logs         []*models.PublishLogEntry
	failRecordAt int // 1-based Record call that fails; 0 never fails
	recordCalls  int
	deletes      []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{published: map[string]*models.PublishedAsset{}}
}

func (f *fakeRecords) Record(p *models.PublishedAsset) error {
	f.recordCalls++
	if f.failRecordAt > 0 && f.recordCalls == f.failRecordAt {
		return assert.AnError
	}
	f.published[p.LibraryPath] = p
	return nil
}

func (f *fakeRecords) DeleteByPath(_ uuid.UUID, path string) error {
	delete(f.published, path)
	f.deletes = append(f.deletes, path)
	return nil
}

func (f *fakeRecords) ListByItem(uuid.UUID) ([]*models.PublishedAsset, error) {
	out := make([]*models.PublishedAsset, 0, len(f.published))
	for _, p := range f.published {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRecords) AppendLog(e *models.PublishLogEntry) error {
	f.logs = append(f.logs, e)
	return nil
}

// ──────────────────── helpers ────────────────────

func selectedCandidate(hash string, assetType models.AssetType, score float64, url string) *models.AssetCandidate {
	return &models.AssetCandidate{
		ID:           uuid.New(),
		AssetType:    assetType,
		Provider:     "tmdb",
		SourceURL:    url,
		Score:        score,
		IsSelected:   true,
		IsDownloaded: true,
		ContentHash:  &hash,
	}
}

func publishableMovie(t *testing.T) *models.MediaItem {
	year := 1999
	file := filepath.Join(t.TempDir(), "The Matrix (1999).mkv")
	return &models.MediaItem{
		ID:            uuid.New(),
		MediaType:     models.KindMovie,
		Title:         "The Matrix",
		Year:          &year,
		DirectoryPath: filepath.Dir(file),
		FilePath:      &file,
	}
}

func TestPublishWritesNFOAndAssets(t *testing.T) {
	blobs := newFakeBlobs(t)
	poster := blobs.add(t, []byte("poster-bytes"), ".jpg")
	fan1 := blobs.add(t, []byte("fanart-one"), ".jpg")
	fan2 := blobs.add(t, []byte("fanart-two"), ".jpg")

	item := publishableMovie(t)
	items := newFakeItems()
	records := newFakeRecords()
	cands := &fakeCandidates{selected: []*models.AssetCandidate{
		selectedCandidate(fan2, models.AssetFanart, 70, "http://f/2"),
		selectedCandidate(poster, models.AssetPoster, 90, "http://p/1"),
		selectedCandidate(fan1, models.AssetFanart, 80, "http://f/1"),
	}}
	p := New(blobs, items, cands, records, 2)

	res, err := p.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, res.NFOWritten)
	assert.Equal(t, 3, res.AssetsWritten)

	assert.FileExists(t, filepath.Join(item.DirectoryPath, "movie.nfo"))
	assert.FileExists(t, filepath.Join(item.DirectoryPath, "poster.jpg"))
	// Higher-scored fanart takes the unnumbered slot.
	one, err := os.ReadFile(filepath.Join(item.DirectoryPath, "fanart.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "fanart-one", string(one))
	two, err := os.ReadFile(filepath.Join(item.DirectoryPath, "fanart1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "fanart-two", string(two))

	assert.NotEmpty(t, items.nfoHashes[item.ID])
	assert.False(t, items.unpublished[item.ID])
	require.Len(t, records.logs, 1)
	assert.True(t, records.logs[0].Success)
	assert.Len(t, records.published, 4)
}

func TestRepublishUnchangedIsNoOp(t *testing.T) {
	blobs := newFakeBlobs(t)
	poster := blobs.add(t, []byte("poster-bytes"), ".jpg")

	item := publishableMovie(t)
	items := newFakeItems()
	records := newFakeRecords()
	cands := &fakeCandidates{selected: []*models.AssetCandidate{
		selectedCandidate(poster, models.AssetPoster, 90, "http://p/1"),
	}}
	p := New(blobs, items, cands, records, 2)

	_, err := p.Publish(context.Background(), item)
	require.NoError(t, err)

	res, err := p.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, res.NFOWritten)
	assert.Equal(t, 0, res.AssetsWritten)
	assert.Equal(t, 2, res.AssetsSkipped)
}

func TestPublishRejectsUndownloadedSelection(t *testing.T) {
	blobs := newFakeBlobs(t)
	item := publishableMovie(t)
	pending := &models.AssetCandidate{
		AssetType:  models.AssetPoster,
		Provider:   "tmdb",
		IsSelected: true,
	}
	p := New(blobs, newFakeItems(), &fakeCandidates{selected: []*models.AssetCandidate{pending}}, newFakeRecords(), 2)

	_, err := p.Publish(context.Background(), item)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "movie.nfo"))
}

func TestPublishRejectsMissingRequiredFields(t *testing.T) {
	blobs := newFakeBlobs(t)
	item := publishableMovie(t)
	item.Year = nil
	p := New(blobs, newFakeItems(), &fakeCandidates{}, newFakeRecords(), 2)

	_, err := p.Publish(context.Background(), item)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestPublishRollsBackOnMissingBlob(t *testing.T) {
	blobs := newFakeBlobs(t)
	poster := blobs.add(t, []byte("poster-bytes"), ".jpg")

	item := publishableMovie(t)
	records := newFakeRecords()
	ghost := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	cands := &fakeCandidates{selected: []*models.AssetCandidate{
		{AssetType: models.AssetBanner, Provider: "tmdb", SourceURL: "http://b/1",
			IsSelected: true, IsDownloaded: true, ContentHash: &ghost},
		selectedCandidate(poster, models.AssetPoster, 90, "http://p/1"),
	}}
	p := New(blobs, newFakeItems(), cands, records, 2)

	_, err := p.Publish(context.Background(), item)
	require.Error(t, err)

	// Everything this run wrote is gone again.
	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "movie.nfo"))
	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "banner.jpg"))
	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "poster.jpg"))
	require.Len(t, records.logs, 1)
	assert.False(t, records.logs[0].Success)
	assert.Empty(t, records.published, "no rows for files that were rolled back")
}

func recordHashes(records *fakeRecords) map[string]string {
	out := map[string]string{}
	for path, rec := range records.published {
		out[path] = rec.ContentHash
	}
	return out
}

func TestFailedRepublishKeepsRecordsAtPreviousState(t *testing.T) {
	blobs := newFakeBlobs(t)
	poster := blobs.add(t, []byte("poster-bytes"), ".jpg")

	item := publishableMovie(t)
	items := newFakeItems()
	records := newFakeRecords()
	cands := &fakeCandidates{selected: []*models.AssetCandidate{
		selectedCandidate(poster, models.AssetPoster, 90, "http://p/1"),
	}}
	p := New(blobs, items, cands, records, 2)

	_, err := p.Publish(context.Background(), item)
	require.NoError(t, err)

	nfoPath := filepath.Join(item.DirectoryPath, "movie.nfo")
	originalNFO, err := os.ReadFile(nfoPath)
	require.NoError(t, err)
	original := recordHashes(records)

	// The changed plot rewrites the NFO, then a selected fanart with no
	// cached blob fails the run.
	plot := "There is no spoon."
	item.Plot = &plot
	ghost := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	cands.selected = append(cands.selected, &models.AssetCandidate{
		AssetType: models.AssetFanart, Provider: "tmdb", SourceURL: "http://f/1",
		IsSelected: true, IsDownloaded: true, ContentHash: &ghost,
	})

	_, err = p.Publish(context.Background(), item)
	require.Error(t, err)

	after, err := os.ReadFile(nfoPath)
	require.NoError(t, err)
	assert.Equal(t, originalNFO, after, "disk rolled back to the previous publish")
	assert.Equal(t, original, recordHashes(records), "rows still describe exactly the restored files")
}

func TestRecordFlushFailureRevertsLedger(t *testing.T) {
	blobs := newFakeBlobs(t)
	poster := blobs.add(t, []byte("poster-bytes"), ".jpg")
	banner := blobs.add(t, []byte("banner-bytes"), ".jpg")
	fanart := blobs.add(t, []byte("fanart-bytes"), ".jpg")

	item := publishableMovie(t)
	items := newFakeItems()
	records := newFakeRecords()
	cands := &fakeCandidates{selected: []*models.AssetCandidate{
		selectedCandidate(poster, models.AssetPoster, 90, "http://p/1"),
	}}
	p := New(blobs, items, cands, records, 2)

	_, err := p.Publish(context.Background(), item)
	require.NoError(t, err)
	original := recordHashes(records)

	// Second run: NFO and poster unchanged, two new assets staged. The
	// second row write fails, so the first must be taken back out.
	cands.selected = append(cands.selected,
		selectedCandidate(banner, models.AssetBanner, 80, "http://b/1"),
		selectedCandidate(fanart, models.AssetFanart, 70, "http://f/1"),
	)
	records.failRecordAt = records.recordCalls + 2

	_, err = p.Publish(context.Background(), item)
	require.Error(t, err)

	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "banner.jpg"))
	assert.NoFileExists(t, filepath.Join(item.DirectoryPath, "fanart.jpg"))
	assert.Equal(t, original, recordHashes(records))
	assert.NotEmpty(t, records.deletes, "the flushed new row was deleted on revert")
}

func TestNFOFileNames(t *testing.T) {
	epFile := "/tv/Show/Season 01/Show - S01E02.mkv"
	tests := []struct {
		item *models.MediaItem
		want string
	}{
		{&models.MediaItem{MediaType: models.KindMovie}, "movie.nfo"},
		{&models.MediaItem{MediaType: models.KindSeries}, "tvshow.nfo"},
		{&models.MediaItem{MediaType: models.KindEpisode, FilePath: &epFile}, "Show - S01E02.nfo"},
		{&models.MediaItem{MediaType: models.KindArtist}, "artist.nfo"},
		{&models.MediaItem{MediaType: models.KindAlbum}, "album.nfo"},
	}
	for _, tt := range tests {
		got, err := NFOFileName(tt.item)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NFOFileName(&models.MediaItem{MediaType: models.KindEpisode})
	assert.Error(t, err, "episode without video file has no NFO anchor")
}

func TestAssetFileNames(t *testing.T) {
	season := 2
	specials := 0
	movie := &models.MediaItem{MediaType: models.KindMovie}
	album := &models.MediaItem{MediaType: models.KindAlbum}
	seasonItem := &models.MediaItem{MediaType: models.KindSeason, SeasonNumber: &season}
	specialsItem := &models.MediaItem{MediaType: models.KindSeason, SeasonNumber: &specials}

	tests := []struct {
		item      *models.MediaItem
		assetType models.AssetType
		slot      int
		ext       string
		want      string
	}{
		{movie, models.AssetPoster, 0, ".jpg", "poster.jpg"},
		{movie, models.AssetPoster, 0, "jpeg", "poster.jpg"},
		{album, models.AssetPoster, 0, ".png", "folder.png"},
		{movie, models.AssetFanart, 0, ".jpg", "fanart.jpg"},
		{movie, models.AssetFanart, 2, ".jpg", "fanart2.jpg"},
		{movie, models.AssetDiscArt, 0, ".png", "disc.png"},
		{seasonItem, models.AssetSeasonPoster, 0, ".jpg", "season02-poster.jpg"},
		{specialsItem, models.AssetSeasonPoster, 0, ".jpg", "season-specials-poster.jpg"},
	}
	for _, tt := range tests {
		got, err := AssetFileName(tt.item, tt.assetType, tt.slot, tt.ext)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s slot %d", tt.assetType, tt.slot)
	}
}
