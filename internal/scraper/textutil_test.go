package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "", CleanText(""))
	assert.Equal(t, "Audi A6", CleanText("  Audi\n\t A6  "))
	assert.Equal(t, "one two three", CleanText("one  two\n\nthree"))
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *float64
	}{
		{name: "plain integer", in: "25500", want: floatPtr(25500)},
		{name: "currency with separators", in: "12 345,67 грн", want: floatPtr(12345.67)},
		{name: "dollar price", in: "25 500 $", want: floatPtr(25500)},
		{name: "empty", in: "", want: nil},
		{name: "no digits", in: "n/a", want: nil},
		{name: "digits inside text", in: "близько 199 тис.", want: floatPtr(199)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractNumber(tc.in)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.want, *got, 0.001)
		})
	}
}

func TestJitteredDelayBounds(t *testing.T) {
	base := 2 * time.Second
	for i := 0; i < 200; i++ {
		d := jitteredDelay(base)
		assert.GreaterOrEqual(t, d, minRequestDelay)
		assert.LessOrEqual(t, d, base+base*30/100+time.Millisecond)
		assert.GreaterOrEqual(t, d, base-base*30/100-time.Millisecond)
	}
}

func TestJitteredDelayFloor(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, jitteredDelay(100*time.Millisecond), minRequestDelay)
	}
}

func floatPtr(v float64) *float64 { return &v }
