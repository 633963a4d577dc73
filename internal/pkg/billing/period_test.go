package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddMonthClamped(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "jan 31 leap year",
			in:   time.Date(2024, 1, 31, 10, 30, 0, 0, time.UTC),
			want: time.Date(2024, 2, 29, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "jan 31 non-leap year",
			in:   time.Date(2023, 1, 31, 10, 30, 0, 0, time.UTC),
			want: time.Date(2023, 2, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "mar 31 to apr 30",
			in:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "dec 31 rolls the year",
			in:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
		},
		{
			name: "mid month unchanged day",
			in:   time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC),
			want: time.Date(2024, 7, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "feb 29 to mar 29",
			in:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonthClamped(tt.in))
		})
	}
}

func TestAddMonthClampedNeverSkipsAMonth(t *testing.T) {
	start := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	for d := 0; d < 800; d++ {
		in := start.AddDate(0, 0, d)
		out := AddMonthClamped(in)
		wantMonth := (int(in.Month()) % 12) + 1
		assert.Equal(t, wantMonth, int(out.Month()), in.String())
		assert.True(t, out.After(in))
	}
}
