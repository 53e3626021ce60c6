// Package e2e drives the HTTP API against a real manager and the reference
// LLaVA provider with a tiny on-disk artifact.
package e2e
