package usecase

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
)

// legacyRecord is the flat shape written by older clients: the report itself,
// optionally carrying the storage flags at top level.
type legacyRecord struct {
	domain.Report
	Timestamp   *float64 `json:"timestamp"`
	IsFirstView bool     `json:"isFirstView"`
}

// decodeRecord parses a stored record into an envelope. Records without a "data"
// field are legacy reports; their envelope is synthesized and nothing is rewritten.
// id is the id implied by the record's key and fills in a missing envelope id.
func decodeRecord(id, raw string, now time.Time) (domain.StoredReportEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return domain.StoredReportEnvelope{}, fmt.Errorf("%w: %s: not a JSON object", domain.ErrMalformedRecord, id)
	}

	if _, ok := fields["data"]; ok {
		var env domain.StoredReportEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return domain.StoredReportEnvelope{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedRecord, id, err)
		}
		if env.ID == "" {
			env.ID = env.Data.ID
		}
		if env.ID == "" {
			env.ID = id
		}
		if env.Data.ID == "" {
			env.Data.ID = env.ID
		}
		if env.Timestamp <= 0 {
			env.Timestamp = now.UnixMilli()
		}
		return env, nil
	}

	_, hasID := fields["id"]
	_, hasRecipe := fields["recipe"]
	if !hasID && !hasRecipe {
		return domain.StoredReportEnvelope{}, fmt.Errorf("%w: %s: neither an envelope nor a report", domain.ErrMalformedRecord, id)
	}

	var legacy legacyRecord
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return domain.StoredReportEnvelope{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedRecord, id, err)
	}
	if legacy.ID == "" {
		legacy.ID = id
	}

	env := domain.NewEnvelope(legacy.Report, now)
	env.IsFirstView = legacy.IsFirstView
	if legacy.Timestamp != nil && *legacy.Timestamp > 0 {
		env.Timestamp = int64(*legacy.Timestamp)
	}
	return env, nil
}
