package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEaster(t *testing.T) {
	known := map[int]string{
		1961: "1961-04-02",
		2000: "2000-04-23",
		2008: "2008-03-23",
		2019: "2019-04-21",
		2024: "2024-03-31",
		2025: "2025-04-20",
		2026: "2026-04-05",
		2038: "2038-04-25",
	}
	for year, want := range known {
		assert.Equal(t, want, Easter(year).Format(dateLayout), "year %d", year)
	}
}
