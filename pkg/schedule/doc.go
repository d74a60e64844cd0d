// Package schedule provides schedules for periodic background work such as
// offline queue reconciliation.
//
// Every covers fixed intervals. Parse and Cron accept five-field cron
// expressions and descriptors such as "@every 30s" or "@hourly"; Parse
// reports a bad expression, Cron panics on one.
package schedule
