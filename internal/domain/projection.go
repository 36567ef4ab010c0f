package domain

import (
	"math"
	"sort"
	"strings"
)

type ProjectionInput struct {
	TeamPointsPerDay  float64
	Contributors      []Contributor
	TimeOffByPerson   map[string]int
	HolidayCount      int
	SprintWorkingDays int
	TeamSize          int
}

// ProjectVelocity derives the expected and projected sprint velocity from
// capacity losses. It is a pure function of its input: identical inputs
// yield an identical projection, and the result is never negative.
func ProjectVelocity(input ProjectionInput) VelocityProjection {
	teamSize := input.TeamSize
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}

	expected := input.TeamPointsPerDay * float64(input.SprintWorkingDays)

	ratesByName := make(map[string]float64, len(input.Contributors))
	for _, contributor := range input.Contributors {
		name := strings.ToLower(strings.TrimSpace(contributor.DisplayName))
		if name == "" {
			continue
		}
		ratesByName[name] = contributor.PointsPerDay
	}

	fallbackRate := input.TeamPointsPerDay / float64(teamSize)

	impacts := make([]PersonImpact, 0, len(input.TimeOffByPerson))
	var unmatched []string
	totalLost := 0.0
	for name, daysOff := range input.TimeOffByPerson {
		if daysOff <= 0 {
			continue
		}
		rate, matched := ratesByName[strings.ToLower(strings.TrimSpace(name))]
		if !matched {
			rate = fallbackRate
			unmatched = append(unmatched, name)
		}
		lost := rate * float64(daysOff)
		totalLost += lost
		impacts = append(impacts, PersonImpact{
			Name:         name,
			DaysOff:      daysOff,
			ResolvedRate: round2(rate),
			PointsLost:   round1(lost),
		})
	}

	// Holidays hit the whole team once, not per person.
	holidayImpact := float64(input.HolidayCount) * input.TeamPointsPerDay

	projected := expected - totalLost - holidayImpact
	if projected < 0 {
		projected = 0
	}

	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].PointsLost != impacts[j].PointsLost {
			return impacts[i].PointsLost > impacts[j].PointsLost
		}
		return impacts[i].Name < impacts[j].Name
	})
	sort.Strings(unmatched)

	return VelocityProjection{
		ExpectedVelocity:  round1(expected),
		ProjectedVelocity: round1(projected),
		TotalPointsLost:   round1(totalLost),
		HolidayImpact:     round1(holidayImpact),
		PerPersonImpact:   impacts,
		UnmatchedNames:    unmatched,
	}
}

// DeriveStatus classifies planned points against the projection inside a
// 10% relative band, so rounding noise cannot flip the status.
func DeriveStatus(plannedPoints, projectedVelocity float64) string {
	tolerance := projectedVelocity * 0.1
	switch {
	case plannedPoints > projectedVelocity+tolerance:
		return StatusOver
	case plannedPoints < projectedVelocity-tolerance:
		return StatusUnder
	default:
		return StatusOnTarget
	}
}

// BuildCapacitySnapshot assembles the raw calendar inputs for a sprint into
// a snapshot with the person-day breakdown and adjustment factor.
func BuildCapacitySnapshot(window SprintWindow, timeOff []TimeOffRecord, holidays []Holiday, teamSize int) CapacitySnapshot {
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}

	workingDays := WorkingDays(window.Start, window.End)
	totalPersonDays := workingDays * teamSize

	holidayDays := HolidayWorkingDays(holidays, window) * teamSize

	ptoDays := 0
	for _, days := range ConsolidateTimeOff(timeOff, window) {
		ptoDays += days
	}

	available := totalPersonDays - holidayDays - ptoDays
	if available < 0 {
		available = 0
	}
	factor := 1.0
	if totalPersonDays > 0 {
		factor = float64(available) / float64(totalPersonDays)
	}

	return CapacitySnapshot{
		Window:              window,
		TimeOff:             timeOff,
		Holidays:            holidays,
		TeamSize:            teamSize,
		WorkingDays:         workingDays,
		TotalPersonDays:     totalPersonDays,
		HolidayDays:         holidayDays,
		PTODays:             ptoDays,
		AvailablePersonDays: available,
		AdjustmentFactor:    round2(factor),
	}
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
