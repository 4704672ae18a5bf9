package metrics

import "time"

// ObserveCommand records one processed stream command. Status is
// "completed" or "failed".
func ObserveCommand(command, status string, start time.Time) {
	CommandsTotal.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
