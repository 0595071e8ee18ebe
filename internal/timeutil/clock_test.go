package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_IsUTC(t *testing.T) {
	if loc := (RealClock{}).Now().Location(); loc != time.UTC {
		t.Errorf("location = %v, want UTC", loc)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now = %v", c.Now())
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("after Advance Now = %v, want %v", c.Now(), want)
	}
	later := start.AddDate(1, 0, 0)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set Now = %v", c.Now())
	}
}
