package usecase

import (
	"testing"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	now := time.UnixMilli(5000)

	tests := []struct {
		name      string
		raw       string
		wantErr   error
		wantID    string
		wantName  string
		wantTime  int64
		wantFirst bool
	}{
		{
			name:      "envelope",
			raw:       `{"id":"r1","name":"Soup","timestamp":1234,"data":{"id":"r1","recipe":{"name":"Soup"}},"isFirstView":true}`,
			wantID:    "r1",
			wantName:  "Soup",
			wantTime:  1234,
			wantFirst: true,
		},
		{
			name:     "envelope without id or timestamp",
			raw:      `{"name":"Soup","data":{"recipe":{"name":"Soup"}}}`,
			wantID:   "key-id",
			wantName: "Soup",
			wantTime: 5000,
		},
		{
			name:     "legacy report",
			raw:      `{"id":"r2","recipe":{"name":"Tacos"},"timestamp":999}`,
			wantID:   "r2",
			wantName: "Tacos",
			wantTime: 999,
		},
		{
			name:     "legacy report without name",
			raw:      `{"recipe":{}}`,
			wantID:   "key-id",
			wantName: domain.UnknownRecipeName,
			wantTime: 5000,
		},
		{name: "not json", raw: `{oops`, wantErr: domain.ErrMalformedRecord},
		{name: "array", raw: `[1,2]`, wantErr: domain.ErrMalformedRecord},
		{name: "null", raw: `null`, wantErr: domain.ErrMalformedRecord},
		{name: "unrelated object", raw: `{"foo":"bar"}`, wantErr: domain.ErrMalformedRecord},
		{name: "bad data field", raw: `{"id":"r1","data":"text"}`, wantErr: domain.ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeRecord("key-id", tt.raw, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, env.ID)
			assert.Equal(t, tt.wantID, env.Data.ID)
			assert.Equal(t, tt.wantName, env.Name)
			assert.Equal(t, tt.wantTime, env.Timestamp)
			assert.Equal(t, tt.wantFirst, env.IsFirstView)
		})
	}
}
