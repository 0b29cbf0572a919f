package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// Fixture is the YAML document `cfd serve --memory --fixture` seeds from.
type Fixture struct {
	Contests []FixtureContest `yaml:"contests"`
}

// FixtureContest describes one contest with its reference data.
type FixtureContest struct {
	ID             int64                       `yaml:"id"`
	ExternalID     string                      `yaml:"external_id"`
	Name           string                      `yaml:"name"`
	ShortName      string                      `yaml:"short_name"`
	StartTime      *time.Time                  `yaml:"start_time"`
	Duration       time.Duration               `yaml:"duration"`
	FreezeDuration *time.Duration              `yaml:"freeze_duration"`
	UnfreezeOffset *time.Duration              `yaml:"unfreeze_offset"`
	FinalizeOffset *time.Duration              `yaml:"finalize_offset"`
	Enabled        *bool                       `yaml:"enabled"`
	Public         *bool                       `yaml:"public"`
	PenaltyTime    int                         `yaml:"penalty_time"`
	Entities       map[string][]map[string]any `yaml:"entities"`
	Stats          FixtureStats                `yaml:"stats"`
}

// FixtureStats seeds the status projection.
type FixtureStats struct {
	Submissions int `yaml:"submissions"`
	Queued      int `yaml:"queued"`
	Judging     int `yaml:"judging"`
}

// LoadFixture decodes a fixture document and seeds s with it.
func LoadFixture(ctx context.Context, s *MemoryStore, r io.Reader) error {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}

	for _, fc := range f.Contests {
		if fc.ExternalID == "" {
			return fmt.Errorf("fixture contest %q: external_id is required", fc.Name)
		}
		c := &model.Contest{
			ID:             fc.ID,
			ExternalID:     fc.ExternalID,
			Name:           fc.Name,
			ShortName:      fc.ShortName,
			Duration:       fc.Duration,
			FreezeDuration: fc.FreezeDuration,
			UnfreezeOffset: fc.UnfreezeOffset,
			FinalizeOffset: fc.FinalizeOffset,
			Enabled:        fc.Enabled == nil || *fc.Enabled,
			Public:         fc.Public == nil || *fc.Public,
			PenaltyTime:    fc.PenaltyTime,
		}
		if fc.StartTime != nil {
			c.StartTime = *fc.StartTime
			c.StartTimeEnabled = true
		}
		if err := s.PutContest(ctx, c); err != nil {
			return err
		}

		types := make([]string, 0, len(fc.Entities))
		for typ := range fc.Entities {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			et := model.EndpointType(typ)
			if !et.IsValid() {
				return fmt.Errorf("fixture contest %q: unknown entity type %q", fc.ExternalID, typ)
			}
			for _, row := range fc.Entities[typ] {
				id, ok := row["id"].(string)
				if !ok || id == "" {
					return fmt.Errorf("fixture contest %q: %s entity without a string id", fc.ExternalID, typ)
				}
				data, err := model.NewPayload(row)
				if err != nil {
					return fmt.Errorf("fixture contest %q: %s %q: %w", fc.ExternalID, typ, id, err)
				}
				if err := s.PutEntity(ctx, c.ID, &model.Entity{Type: et, ID: id, Data: data}); err != nil {
					return err
				}
			}
		}
		s.SetContestStats(c.ID, model.ContestStats{
			NumSubmissions: fc.Stats.Submissions,
			NumQueued:      fc.Stats.Queued,
			NumJudging:     fc.Stats.Judging,
		})
	}
	return nil
}
