package domain

import "time"

// Reminder band boundaries as percentages of the inactivity threshold.
var ReminderBands = []float64{75, 85, 95, 100}

// BuildActivityStatus derives the current activity view for one user.
// downtime is the platform downtime credit overlapping the inactivity window;
// it is subtracted from the elapsed duration before any band math so that
// users are never penalized for windows in which they could not check in.
func BuildActivityStatus(userID string, anchor, now time.Time, thresholdDays int, downtime time.Duration, proc *HandoverProcess) ActivityStatus {
	if thresholdDays <= 0 {
		thresholdDays = DefaultThresholdDays
	}
	threshold := time.Duration(thresholdDays) * 24 * time.Hour

	inactivity := now.Sub(anchor) - downtime
	if inactivity < 0 {
		inactivity = 0
	}

	pct := float64(inactivity) / float64(threshold) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	status := ActivityStatus{
		UserID:              userID,
		LastActivity:        anchor,
		InactivityDuration:  inactivity,
		ThresholdDays:       thresholdDays,
		ThresholdPercentage: pct,
		Process:             proc,
	}

	deadline := anchor.Add(downtime + threshold)
	if remaining := deadline.Sub(now); remaining > 0 {
		status.TimeRemaining = remaining
	}

	for _, band := range ReminderBands {
		if pct < band {
			due := anchor.Add(downtime + time.Duration(float64(threshold)*band/100))
			status.NextReminderDue = &due
			break
		}
	}

	status.HandoverStatus = deriveHandoverStatus(pct, proc)
	return status
}

func deriveHandoverStatus(pct float64, proc *HandoverProcess) string {
	if proc != nil && !IsTerminalHandoverStatus(proc.Status) {
		if proc.Status == HandoverGracePeriod {
			return StatusGracePeriod
		}
		return StatusHandoverActive
	}
	if pct >= 75 {
		return StatusReminderPhase
	}
	return StatusNormal
}
