package pacing

import "time"

// BusinessHours is a daily [StartHour, EndHour) window on the given weekdays,
// evaluated in Location.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday
	Location  *time.Location
}

// DefaultBusinessHours is Monday to Friday, 09:00 to 18:00 UTC.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		StartHour: 9,
		EndHour:   18,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Location:  time.UTC,
	}
}

func (b BusinessHours) loc() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

func (b BusinessHours) isBusinessDay(d time.Weekday) bool {
	for _, bd := range b.Days {
		if bd == d {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside the window.
func (b BusinessHours) Contains(t time.Time) bool {
	t = t.In(b.loc())
	if !b.isBusinessDay(t.Weekday()) {
		return false
	}
	h := t.Hour()
	return h >= b.StartHour && h < b.EndHour
}

// NextStart returns t itself when inside the window, otherwise the next
// moment the window opens.
func (b BusinessHours) NextStart(t time.Time) time.Time {
	if b.Contains(t) {
		return t
	}
	lt := t.In(b.loc())
	for i := 0; i <= 7; i++ {
		day := time.Date(lt.Year(), lt.Month(), lt.Day()+i, b.StartHour, 0, 0, 0, b.loc())
		if !b.isBusinessDay(day.Weekday()) {
			continue
		}
		if day.After(t) {
			return day
		}
	}
	// no business days configured
	return t
}

// StartOfDay is midnight of t's calendar day in the window's location.
func (b BusinessHours) StartOfDay(t time.Time) time.Time {
	lt := t.In(b.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, b.loc())
}

// StartOfNextDay is midnight after t in the window's location.
func (b BusinessHours) StartOfNextDay(t time.Time) time.Time {
	lt := t.In(b.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, b.loc())
}
