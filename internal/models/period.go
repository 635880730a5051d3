package models

// PeriodSeason identifies which bell-timing table a period belongs to.
type PeriodSeason string

const (
	SeasonSummer  PeriodSeason = "summer"
	SeasonMonsoon PeriodSeason = "monsoon"
	SeasonWinter  PeriodSeason = "winter"
)

// Period is a bell-timing slot. The conflict resolver uses periods to
// enumerate candidate time slots when shifting a request.
type Period struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	StartTime string       `db:"start_time" json:"start_time"`
	EndTime   string       `db:"end_time" json:"end_time"`
	Season    PeriodSeason `db:"season" json:"season"`
}

// DurationMinutes returns the slot length in minutes.
func (p Period) DurationMinutes() int {
	start, err := ClockMinutes(p.StartTime)
	if err != nil {
		return 0
	}
	end, err := ClockMinutes(p.EndTime)
	if err != nil {
		return 0
	}
	return end - start
}
