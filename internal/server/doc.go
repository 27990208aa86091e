// Package server hosts the Fiber HTTP service and its middleware chain.
// Every request gets an X-Request-ID and is handed to a single EdgeHandler;
// diagnostics under /-/ are registered separately by the routes package.
package server
