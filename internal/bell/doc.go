// Package bell arms weekly bell triggers from the stored schedule and plays
// their audio sequences when they fire.
//
// The pieces, leaves first:
//   - Runtime/Trigger: one shared cron runtime; each Trigger is a weekly
//     wall-clock recurrence bound to the runtime's location.
//   - Registry: owns the (day, event id) -> trigger map and the fire callback.
//   - Executor: plays an audio sequence in order with the repeat delay.
//   - Projector: recomputes upcoming occurrences from the schedule itself.
//   - Scheduler: the facade used by the daemon and the CLI.
//
// A fired trigger never propagates an error or panic; the callback logs and
// records the failure and the schedule keeps running.
package bell
