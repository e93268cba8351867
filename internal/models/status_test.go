package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    FindingStatus
		wantErr bool
	}{
		{"open", StatusOpen, false},
		{"Acknowledged", StatusAcknowledged, false},
		{"ack", StatusAcknowledged, false},
		{"false_positive", StatusFalsePositive, false},
		{"False Positive", StatusFalsePositive, false},
		{"resolved", StatusMitigated, false},
		{"closed", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultTransitions(t *testing.T) {
	tr := DefaultTransitions()

	assert.True(t, tr.Allows(StatusOpen, StatusAcknowledged))
	assert.True(t, tr.Allows(StatusOpen, StatusFalsePositive))
	assert.True(t, tr.Allows(StatusMitigated, StatusOpen))
	assert.True(t, tr.Allows(StatusMitigated, StatusMitigated))
	assert.False(t, tr.Allows(StatusMitigated, StatusFalsePositive))
	assert.False(t, tr.Allows(StatusFalsePositive, StatusAcknowledged))
	assert.False(t, tr.Allows(StatusOpen, FindingStatus("closed")))
}

func TestParseTransitions(t *testing.T) {
	tr, err := ParseTransitions(map[string][]string{
		"open": {"mitigated"},
	})
	require.NoError(t, err)
	assert.True(t, tr.Allows(StatusOpen, StatusMitigated))
	assert.False(t, tr.Allows(StatusOpen, StatusAcknowledged))

	_, err = ParseTransitions(map[string][]string{"open": {"closed"}})
	assert.Error(t, err)

	_, err = ParseTransitions(map[string][]string{"nope": {"open"}})
	assert.Error(t, err)
}
