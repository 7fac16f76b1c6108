// Package jobs validates, creates and manages installation jobs.
//
// A job starts in "started" when the API accepts it and is handed to the
// worker through the queue. The worker moves it to "complete" or "failed".
// The owner or staff may cancel a started job, which moves it to "canceled";
// the worker notices between steps and stops. At most one job per org is
// started at a time.
package jobs
