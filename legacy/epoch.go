package legacy

import (
	"math"
	"time"
	_ "time/tzdata"
)

// Eastern is the reference zone of classic issued-at values.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("legacy: load location " + name + ": " + err.Error())
	}
	return loc
}

// Epoch returns the whole seconds between the epoch, expressed in Eastern, and t.
func Epoch(t time.Time) int64 {
	origin := time.Unix(0, 0).In(Eastern)
	return int64(math.Round(t.Sub(origin).Seconds()))
}

// FromEpoch returns the Eastern time sec seconds after the epoch.
func FromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).In(Eastern)
}
