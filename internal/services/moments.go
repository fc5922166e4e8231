package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	momentsKey      = "moments"
	seededKey       = "moments_seeded"
	snapshotVersion = 1
	dateLayout      = "2006-01-02"
)

// demoMoments is what a first-time anonymous user sees
var demoMoments = []models.Moment{
	{ID: "1", Content: "Had a really good latte today ✨", Date: "2023-10-10", Color: models.ColorYellow},
	{ID: "2", Content: "Saw a cute puppy in the park 🐶", Date: "2023-10-11", Color: models.ColorMint},
	{ID: "3", Content: "The project finally launched! 🎉", Date: "2023-10-12", Color: models.ColorPrimary},
}

// statsOrder is the order colors are reported in by Stats
var statsOrder = []models.Color{models.ColorPrimary, models.ColorYellow, models.ColorMint, models.ColorBlue}

// momentBackend is one of the two places moments live. A non-nil list
// returned from a mutation becomes the in-memory list, even alongside an error.
type momentBackend interface {
	name() string
	load(ctx context.Context) ([]models.Moment, error)
	add(ctx context.Context, current []models.Moment, draft models.Moment, imageData string) ([]models.Moment, error)
	remove(ctx context.Context, current []models.Moment, id string) ([]models.Moment, error)
	clear(ctx context.Context, current []models.Moment) ([]models.Moment, error)
}

// MomentService keeps the in-memory moment list in step with the local store
// while anonymous and the remote store while signed in
type MomentService struct {
	sessions IdentitySource
	local    *localBackend
	records  RemoteMomentStore
	images   ImageStore
	now      func() time.Time
	intn     func(n int) int

	mu      sync.Mutex
	moments []models.Moment
	loadSeq atomic.Uint64

	hookMu sync.RWMutex
	onLoad []func([]models.Moment)
}

// NewMomentService creates a moment service. records and images may be nil
// when no remote backend is configured.
func NewMomentService(sessions IdentitySource, local KeyValueStore, records RemoteMomentStore, images ImageStore) *MomentService {
	s := &MomentService{
		sessions: sessions,
		records:  records,
		images:   images,
		now:      time.Now,
		intn:     rand.IntN,
		moments:  []models.Moment{},
	}
	s.local = &localBackend{store: local, now: func() time.Time { return s.now() }}
	return s
}

// OnLoad registers fn to receive the list after every completed Load
func (s *MomentService) OnLoad(fn func([]models.Moment)) {
	s.hookMu.Lock()
	s.onLoad = append(s.onLoad, fn)
	s.hookMu.Unlock()
}

// HandleAuthEvent reloads the collection when the identity changes
func (s *MomentService) HandleAuthEvent(event models.AuthEvent) {
	switch event.Type {
	case models.AuthInitialSession, models.AuthSignedIn, models.AuthSignedOut:
	default:
		return
	}
	if err := s.Load(context.Background()); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to reload moments")
	}
}

// Load replaces the in-memory list with the active backend's collection.
// A Load superseded by a newer one leaves the list alone.
func (s *MomentService) Load(ctx context.Context) error {
	token := s.loadSeq.Add(1)

	s.mu.Lock()
	if token != s.loadSeq.Load() {
		s.mu.Unlock()
		log.Debug().Uint64("token", token).Msg("Skipping superseded load")
		return nil
	}

	backend := s.backend()
	list, err := backend.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load moments from %s store: %w", backend.name(), err)
	}
	if token != s.loadSeq.Load() {
		s.mu.Unlock()
		log.Debug().Uint64("token", token).Msg("Discarding stale load")
		return nil
	}

	s.moments = list
	snapshot := slices.Clone(list)
	s.mu.Unlock()

	log.Debug().Str("backend", backend.name()).Int("count", len(snapshot)).Msg("Moments loaded")

	s.hookMu.RLock()
	hooks := slices.Clone(s.onLoad)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(snapshot)
	}
	return nil
}

// Add records a new moment with a random color and returns it. An empty date
// means today; any other date must be YYYY-MM-DD.
func (s *MomentService) Add(ctx context.Context, content, date, imageData string) (models.Moment, error) {
	if date == "" {
		date = s.now().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return models.Moment{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDate, date)
	}
	draft := models.Moment{
		Content: content,
		Date:    date,
		Color:   models.Colors[s.intn(len(models.Colors))],
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backend := s.backend()
	updated, err := backend.add(ctx, s.moments, draft, imageData)
	if updated != nil {
		s.moments = updated
	}
	if err != nil {
		return models.Moment{}, fmt.Errorf("failed to add moment to %s store: %w", backend.name(), err)
	}
	return updated[0], nil
}

// Remove deletes the moment with id. Unknown ids are not an error.
func (s *MomentService) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := s.backend()
	updated, err := backend.remove(ctx, s.moments, id)
	if updated != nil {
		s.moments = updated
	}
	if err != nil {
		return fmt.Errorf("failed to remove moment from %s store: %w", backend.name(), err)
	}
	return nil
}

// ClearAll deletes every moment in the active backend
func (s *MomentService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := s.backend()
	updated, err := backend.clear(ctx, s.moments)
	if updated != nil {
		s.moments = updated
	}
	if err != nil {
		return fmt.Errorf("failed to clear %s store: %w", backend.name(), err)
	}
	return nil
}

// Moments returns a copy of the in-memory list, newest first
func (s *MomentService) Moments() []models.Moment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.moments)
}

// Count returns the number of moments
func (s *MomentService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moments)
}

// Random picks one moment uniformly
func (s *MomentService) Random() (models.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.moments) == 0 {
		return models.Moment{}, apperrors.ErrNoMoments
	}
	return s.moments[s.intn(len(s.moments))], nil
}

// Timeline returns the moments sorted by date, latest first. Moments sharing
// a date keep their list order; dates that do not parse sort last.
func (s *MomentService) Timeline() []models.Moment {
	list := s.Moments()
	days := make(map[string]time.Time, len(list))
	for _, m := range list {
		if d, err := time.Parse(dateLayout, m.Date); err == nil {
			days[m.Date] = d
		}
	}
	slices.SortStableFunc(list, func(a, b models.Moment) int {
		da, okA := days[a.Date]
		db, okB := days[b.Date]
		switch {
		case okA && okB:
			return db.Compare(da)
		case okA:
			return -1
		case okB:
			return 1
		default:
			return 0
		}
	})
	return list
}

// Stats counts moments per color
func (s *MomentService) Stats() models.Stats {
	list := s.Moments()

	counts := make(map[models.Color]int, len(statsOrder))
	for _, m := range list {
		counts[m.Color]++
	}

	stats := models.Stats{Total: len(list), Colors: make([]models.ColorStat, 0, len(statsOrder))}
	for _, c := range statsOrder {
		stat := models.ColorStat{Color: c, Count: counts[c]}
		if stats.Total > 0 {
			stat.Percent = math.Round(float64(stat.Count)*1000/float64(stats.Total)) / 10
		}
		stats.Colors = append(stats.Colors, stat)
	}
	return stats
}

// backend picks the store for the current identity. Must be called with mu held.
func (s *MomentService) backend() momentBackend {
	if s.records == nil {
		return s.local
	}
	user := s.sessions.Current()
	if user == nil {
		return s.local
	}
	return &remoteBackend{userID: user.ID, records: s.records, images: s.images}
}

// localBackend keeps the whole collection as one versioned snapshot
type localBackend struct {
	store KeyValueStore
	now   func() time.Time
}

type snapshot struct {
	Version int             `json:"version"`
	Moments []models.Moment `json:"moments"`
}

func (b *localBackend) name() string { return "local" }

func (b *localBackend) load(ctx context.Context) ([]models.Moment, error) {
	raw, ok, err := b.store.Get(ctx, momentsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return decodeSnapshot(raw)
	}

	_, seeded, err := b.store.Get(ctx, seededKey)
	if err != nil {
		return nil, err
	}
	if seeded {
		return []models.Moment{}, nil
	}

	seed := slices.Clone(demoMoments)
	if err := b.save(ctx, seed); err != nil {
		return nil, err
	}
	if err := b.markSeeded(ctx); err != nil {
		return nil, err
	}
	log.Info().Int("count", len(seed)).Msg("Seeded demo moments")
	return seed, nil
}

func (b *localBackend) add(ctx context.Context, current []models.Moment, draft models.Moment, imageData string) ([]models.Moment, error) {
	draft.ID = nextLocalID(current, b.now())
	draft.ImageURL = imageData

	updated := append([]models.Moment{draft}, current...)
	return updated, b.save(ctx, updated)
}

func (b *localBackend) remove(ctx context.Context, current []models.Moment, id string) ([]models.Moment, error) {
	updated := without(current, id)
	return updated, b.save(ctx, updated)
}

// clear drops the snapshot key entirely. The seeded marker keeps the demo
// moments from coming back on the next load.
func (b *localBackend) clear(ctx context.Context, _ []models.Moment) ([]models.Moment, error) {
	if err := b.markSeeded(ctx); err != nil {
		return []models.Moment{}, err
	}
	if err := b.store.Delete(ctx, momentsKey); err != nil {
		return []models.Moment{}, fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return []models.Moment{}, nil
}

func (b *localBackend) markSeeded(ctx context.Context) error {
	if err := b.store.Set(ctx, seededKey, "1"); err != nil {
		return fmt.Errorf("failed to save seeded marker: %w", err)
	}
	return nil
}

// save rewrites the whole snapshot
func (b *localBackend) save(ctx context.Context, list []models.Moment) error {
	data, err := encodeSnapshot(list)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, momentsKey, data); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func encodeSnapshot(list []models.Moment) (string, error) {
	if list == nil {
		list = []models.Moment{}
	}
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Moments: list})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}

// decodeSnapshot also accepts the unversioned array written before snapshots
// carried a version
func decodeSnapshot(raw string) ([]models.Moment, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var legacy []models.Moment
		if err := json.Unmarshal([]byte(trimmed), &legacy); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		if legacy == nil {
			legacy = []models.Moment{}
		}
		return legacy, nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(trimmed), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Moments == nil {
		snap.Moments = []models.Moment{}
	}
	return snap.Moments, nil
}

// nextLocalID derives an id from the clock, stepping past ids already taken
func nextLocalID(current []models.Moment, now time.Time) string {
	taken := make(map[string]struct{}, len(current))
	for _, m := range current {
		taken[m.ID] = struct{}{}
	}

	n := now.UnixMilli()
	for {
		id := strconv.FormatInt(n, 10)
		if _, ok := taken[id]; !ok {
			return id
		}
		n++
	}
}

// remoteBackend works against the signed-in identity's records
type remoteBackend struct {
	userID  string
	records RemoteMomentStore
	images  ImageStore
}

func (b *remoteBackend) name() string { return "remote" }

func (b *remoteBackend) load(ctx context.Context) ([]models.Moment, error) {
	recs, err := b.records.ListByOwner(ctx, b.userID)
	if err != nil {
		return nil, err
	}

	list := make([]models.Moment, 0, len(recs))
	for _, rec := range recs {
		list = append(list, rec.Moment())
	}
	return list, nil
}

func (b *remoteBackend) add(ctx context.Context, current []models.Moment, draft models.Moment, imageData string) ([]models.Moment, error) {
	rec := &models.MomentRecord{
		UserID:  b.userID,
		Content: draft.Content,
		Date:    draft.Date,
		Color:   draft.Color,
	}

	if imageData != "" {
		if b.images == nil {
			return nil, fmt.Errorf("failed to upload image: %w", apperrors.ErrNotConfigured)
		}
		url, err := b.images.UploadDataURI(ctx, models.ImageKindImage, imageData)
		if err != nil {
			return nil, err
		}
		rec.ImageURL = &url
	}

	created, err := b.records.Create(ctx, rec)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", b.userID).
		Str("moment_id", created.ID).
		Msg("Moment created")

	return append([]models.Moment{created.Moment()}, current...), nil
}

func (b *remoteBackend) remove(ctx context.Context, current []models.Moment, id string) ([]models.Moment, error) {
	if err := b.records.Delete(ctx, b.userID, id); err != nil {
		return nil, err
	}

	for _, m := range current {
		if m.ID == id {
			b.deleteImage(ctx, m.ImageURL)
		}
	}
	return without(current, id), nil
}

func (b *remoteBackend) clear(ctx context.Context, current []models.Moment) ([]models.Moment, error) {
	if err := b.records.DeleteByOwner(ctx, b.userID); err != nil {
		return nil, err
	}

	for _, m := range current {
		b.deleteImage(ctx, m.ImageURL)
	}
	return []models.Moment{}, nil
}

func (b *remoteBackend) deleteImage(ctx context.Context, url string) {
	if b.images == nil || url == "" || strings.HasPrefix(url, "data:") {
		return
	}
	b.images.Delete(ctx, url)
}

func without(list []models.Moment, id string) []models.Moment {
	out := make([]models.Moment, 0, len(list))
	for _, m := range list {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
