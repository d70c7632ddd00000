// Package controller turns control-plane intents into flow runs.
//
// A Worker has one method per intent. Each method reads the entity and its
// relations from the repository, builds the flow store and runs the flow on
// the engine. Entity updates first wait for the entity to be committed as
// PENDING_UPDATE, creates wait for it to exist at all. Failover is the only
// path where the worker itself writes a terminal status.
//
// Operations can also be dispatched by name with Worker.Dispatch, which
// decodes a JSON payload into the operation's parameter struct. Every
// parameter struct is validated before any repository read.
package controller
