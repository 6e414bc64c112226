package domain_test

import (
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/stretchr/testify/assert"
)

func TestSystemClock_Now(t *testing.T) {
	clock := domain.NewSystemClock()

	assert.WithinDuration(t, time.Now().UTC(), clock.Now(), time.Second)
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestFixedClock(t *testing.T) {
	pinned := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := domain.NewFixedClock(pinned)

	assert.Equal(t, pinned, clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, pinned.Add(time.Hour), clock.Now())

	newTime := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(newTime)
	assert.Equal(t, newTime, clock.Now())
}
