// Package listener dispatches job, trigger and scheduler notifications.
//
// Listeners are registered by type identifier, either globally or scoped to a
// single target (a job key, trigger key or scheduler name). Instances are
// obtained from a Constructor on every dispatch, so the constructor's binding
// scope decides whether an instance is shared.
//
// A failing or panicking listener never stops dispatch: the failure is
// collected and returned as a *DispatchWarning once every listener ran.
package listener
