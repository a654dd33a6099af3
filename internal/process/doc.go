// Package process groups follow-up records by due-process stage and projects
// per-stage progress for a case.
package process
