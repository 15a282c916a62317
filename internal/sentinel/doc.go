// Package sentinel defines the const-declarable error type used for every
// sentinel error in chenv, from ErrIntegrity in the fetch layer up to
// ErrShuttingDown in the facade.
package sentinel
