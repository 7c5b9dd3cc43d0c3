package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// SlotFile is the seed format for weekly availability:
//
//	providers:
//	  - provider_id: 6f1c...
//	    replace: true
//	    slots:
//	      - {day: monday, start: "08:00", end: "12:00"}
type SlotFile struct {
	Providers []ProviderSlots `yaml:"providers"`
}

type ProviderSlots struct {
	ProviderID string      `yaml:"provider_id"`
	Replace    bool        `yaml:"replace"`
	Slots      []SlotEntry `yaml:"slots"`
}

type SlotEntry struct {
	Day   string `yaml:"day"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ImportResult struct {
	Created     int `json:"created"`
	Reactivated int `json:"reactivated"`
	Unchanged   int `json:"unchanged"`
	Deactivated int `json:"deactivated"`
}

var weekdays = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

func parseDay(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdays[s]; ok {
		return d, nil
	}
	d, err := strconv.Atoi(s)
	if err != nil || d < 0 || d > 6 {
		return 0, fmt.Errorf("%w: invalid day %q", engine.ErrInvalidInput, s)
	}
	return d, nil
}

// ParseSlotFile decodes a YAML seed file. Unknown keys are rejected.
func ParseSlotFile(r io.Reader) (*SlotFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f SlotFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("%w: parse slot file: %v", engine.ErrInvalidInput, err)
	}
	return &f, nil
}

// slots converts the entries to validated slots for providerID.
func (p ProviderSlots) slots(providerID uuid.UUID) ([]*TimeSlot, error) {
	out := make([]*TimeSlot, 0, len(p.Slots))
	for i, e := range p.Slots {
		day, err := parseDay(e.Day)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		start, err := engine.ParseTimeOfDay(e.Start)
		if err != nil {
			return nil, fmt.Errorf("slot %d start: %w", i, err)
		}
		end, err := engine.ParseTimeOfDay(e.End)
		if err != nil {
			return nil, fmt.Errorf("slot %d end: %w", i, err)
		}
		sl := &TimeSlot{ProviderID: providerID, DayOfWeek: day, StartTime: start, EndTime: end, IsActive: true}
		if err := sl.ToEngine().Validate(); err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		out = append(out, sl)
	}
	return out, nil
}

// ImportSlots upserts each provider's weekly windows. A window that already
// exists is reused and reactivated; with Replace set, the provider's other
// active slots are deactivated. Every entry is validated before anything is
// written.
func (s *Service) ImportSlots(ctx context.Context, f *SlotFile) (*ImportResult, error) {
	type batch struct {
		providerID uuid.UUID
		replace    bool
		slots      []*TimeSlot
	}
	batches := make([]batch, 0, len(f.Providers))
	for _, p := range f.Providers {
		id, err := uuid.Parse(p.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid provider_id %q", engine.ErrInvalidInput, p.ProviderID)
		}
		slots, err := p.slots(id)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		batches = append(batches, batch{providerID: id, replace: p.Replace, slots: slots})
	}

	res := &ImportResult{}
	for _, b := range batches {
		keep := make([]uuid.UUID, 0, len(b.slots))
		for _, sl := range b.slots {
			existing, err := s.slots.FindWindow(ctx, b.providerID, sl.DayOfWeek, sl.StartTime, sl.EndTime)
			switch {
			case errors.Is(err, engine.ErrNotFound):
				if err := s.slots.Create(ctx, sl); err != nil {
					return nil, err
				}
				res.Created++
				keep = append(keep, sl.ID)
			case err != nil:
				return nil, err
			case !existing.IsActive:
				existing.IsActive = true
				if err := s.slots.Update(ctx, existing); err != nil {
					return nil, err
				}
				res.Reactivated++
				keep = append(keep, existing.ID)
			default:
				res.Unchanged++
				keep = append(keep, existing.ID)
			}
		}
		if b.replace {
			n, err := s.slots.DeactivateExcept(ctx, b.providerID, keep)
			if err != nil {
				return nil, err
			}
			res.Deactivated += n
		}
		s.logger.Info().Str("provider_id", b.providerID.String()).Int("slots", len(b.slots)).Msg("slots imported")
	}
	return res, nil
}
