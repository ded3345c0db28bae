package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

// CatalogFile is the YAML document accepted by Import. Entries refer to
// each other by Key; database IDs are assigned on import.
type CatalogFile struct {
	Admission *model.AdmissionConfig `yaml:"admission"`
	Tracks    []CatalogTrack         `yaml:"tracks"`
	Rooms     []CatalogRoom          `yaml:"rooms"`
	Timeslots []CatalogTimeslot      `yaml:"timeslots"`
	Sessions  []CatalogSession       `yaml:"sessions"`
}

// CatalogTrack names a track.
type CatalogTrack struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// CatalogRoom is a room. Its capacity applies to sessions that set none.
type CatalogRoom struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// CatalogTimeslot is a timeslot; Order decides its place in the day.
type CatalogTimeslot struct {
	Key   string    `yaml:"key"`
	Order int       `yaml:"order"`
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

// CatalogSession refers to its track, room and timeslots by key.
type CatalogSession struct {
	Name      string   `yaml:"name"`
	Track     string   `yaml:"track"`
	Room      string   `yaml:"room"`
	Capacity  int      `yaml:"capacity"`
	Timeslots []string `yaml:"timeslots"`
}

// ImportSummary counts what Import created.
type ImportSummary struct {
	Tracks    int `json:"tracks"`
	Rooms     int `json:"rooms"`
	Timeslots int `json:"timeslots"`
	Sessions  int `json:"sessions"`
}

// ParseCatalog decodes a catalog file. Unknown fields are rejected.
func ParseCatalog(r io.Reader) (*CatalogFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f CatalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &f, nil
}

// Validate checks keys and references before anything is written.
func (f *CatalogFile) Validate() error {
	verr := &ValidationError{}

	seen := func(kind string, keys []string) map[string]bool {
		set := make(map[string]bool, len(keys))
		for i, k := range keys {
			switch {
			case k == "":
				verr.add(fmt.Sprintf("%s[%d].key", kind, i), "is required")
			case set[k]:
				verr.add(fmt.Sprintf("%s[%d].key", kind, i), "duplicate key "+k)
			}
			set[k] = true
		}
		return set
	}

	trackKeys := make([]string, len(f.Tracks))
	for i, t := range f.Tracks {
		trackKeys[i] = t.Key
		if t.Name == "" {
			verr.add(fmt.Sprintf("tracks[%d].name", i), "is required")
		}
	}
	roomKeys := make([]string, len(f.Rooms))
	for i, r := range f.Rooms {
		roomKeys[i] = r.Key
		if r.Name == "" {
			verr.add(fmt.Sprintf("rooms[%d].name", i), "is required")
		}
		if r.Capacity < 0 {
			verr.add(fmt.Sprintf("rooms[%d].capacity", i), "must not be negative")
		}
	}
	slotKeys := make([]string, len(f.Timeslots))
	for i, ts := range f.Timeslots {
		slotKeys[i] = ts.Key
		if !ts.Start.Before(ts.End) {
			verr.add(fmt.Sprintf("timeslots[%d]", i), model.ErrInvalidTimeslot.Error())
		}
	}
	tracks := seen("tracks", trackKeys)
	rooms := seen("rooms", roomKeys)
	slots := seen("timeslots", slotKeys)

	for i, s := range f.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)
		if s.Name == "" {
			verr.add(field+".name", "is required")
		}
		if !tracks[s.Track] {
			verr.add(field+".track", "unknown track "+s.Track)
		}
		if !rooms[s.Room] {
			verr.add(field+".room", "unknown room "+s.Room)
		}
		if s.Capacity < 0 {
			verr.add(field+".capacity", "must not be negative")
		}
		linked := make(map[string]bool, len(s.Timeslots))
		for _, k := range s.Timeslots {
			if !slots[k] {
				verr.add(field+".timeslots", "unknown timeslot "+k)
			} else if linked[k] {
				verr.add(field+".timeslots", "duplicate timeslot "+k)
			}
			linked[k] = true
		}
	}
	if f.Admission != nil && f.Admission.MaxUsers < 0 {
		verr.add("admission.max_users", "must not be negative")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// CatalogService exposes the event catalog.
type CatalogService struct {
	store   repository.Store
	gate    *AdmissionGate
	timeout time.Duration
	logger  *slog.Logger
}

// NewCatalogService constructs a CatalogService. gate may be nil when the
// admission cache does not need invalidating.
func NewCatalogService(store repository.Store, gate *AdmissionGate, timeout time.Duration, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, gate: gate, timeout: timeout, logger: logger}
}

// Overview returns the timeslots in order, each with its sessions and their
// current availability.
func (s *CatalogService) Overview(ctx context.Context) ([]model.TimeslotOverview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []model.TimeslotOverview
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = repository.Overview(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog overview: %w", err)
	}
	return out, nil
}

// Import writes the whole catalog file in one transaction. Nothing is
// written when any entry fails.
func (s *CatalogService) Import(ctx context.Context, f *CatalogFile) (ImportSummary, error) {
	if err := f.Validate(); err != nil {
		return ImportSummary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sum ImportSummary
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		sum = ImportSummary{}
		tracks := make(map[string]int64, len(f.Tracks))
		for _, t := range f.Tracks {
			track := model.Track{Name: t.Name}
			if err := tx.CreateTrack(ctx, &track); err != nil {
				return fmt.Errorf("create track %s: %w", t.Key, err)
			}
			tracks[t.Key] = track.ID
			sum.Tracks++
		}

		rooms := make(map[string]int64, len(f.Rooms))
		for _, r := range f.Rooms {
			room := model.Room{Name: r.Name, Capacity: r.Capacity}
			if err := tx.CreateRoom(ctx, &room); err != nil {
				return fmt.Errorf("create room %s: %w", r.Key, err)
			}
			rooms[r.Key] = room.ID
			sum.Rooms++
		}

		slots := make(map[string]int64, len(f.Timeslots))
		for _, ts := range f.Timeslots {
			slot := model.Timeslot{Order: ts.Order, Start: ts.Start, End: ts.End}
			if err := tx.CreateTimeslot(ctx, &slot); err != nil {
				return fmt.Errorf("create timeslot %s: %w", ts.Key, err)
			}
			slots[ts.Key] = slot.ID
			sum.Timeslots++
		}

		for _, cs := range f.Sessions {
			sess := model.Session{
				Name:     cs.Name,
				TrackID:  tracks[cs.Track],
				RoomID:   rooms[cs.Room],
				Capacity: cs.Capacity,
			}
			for _, k := range cs.Timeslots {
				sess.TimeslotIDs = append(sess.TimeslotIDs, slots[k])
			}
			if err := tx.CreateSession(ctx, &sess); err != nil {
				return fmt.Errorf("create session %q: %w", cs.Name, err)
			}
			sum.Sessions++
		}

		if f.Admission != nil {
			if err := tx.SetAdmissionConfig(ctx, *f.Admission); err != nil {
				return fmt.Errorf("set admission: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ImportSummary{}, fmt.Errorf("import catalog: %w", err)
	}

	if s.gate != nil {
		s.gate.invalidate(ctx)
	}
	s.logger.Info("catalog imported",
		"tracks", sum.Tracks, "rooms", sum.Rooms, "timeslots", sum.Timeslots, "sessions", sum.Sessions)
	return sum, nil
}
