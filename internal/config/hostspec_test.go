package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHostSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    HostSpec
		wantErr string
	}{
		{in: "local", want: HostSpec{Host: "local"}},
		{in: "alice@build1 4", want: HostSpec{Host: "alice@build1", Workers: 4}},
		{in: "  spaced   2 ", want: HostSpec{Host: "spaced", Workers: 2}},
		{in: "", wantErr: "empty"},
		{in: "host x", wantErr: "needs to be an integer"},
		{in: "host 0", wantErr: "non-positive"},
		{in: "host -3", wantErr: "non-positive"},
		{in: "host 1 2", wantErr: "too many fields"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHostSpec(tt.in)
			if tt.wantErr != "" {
				assert.ErrorIs(t, err, ErrInvalidHostSpec)
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTotalWorkers(t *testing.T) {
	assert.Equal(t, 0, TotalWorkers(nil))
	assert.Equal(t, 6, TotalWorkers([]HostSpec{{Host: "a", Workers: 1}, {Host: "b", Workers: 5}}))
	assert.Equal(t, "a 1", HostSpec{Host: "a", Workers: 1}.String())
}
