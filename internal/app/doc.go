// Package app wires the license service together and owns its lifecycle.
//
// # Initialization Flow
//
//	1. Initialize logging and OpenTelemetry
//	2. Open the authoritative store (PostgreSQL or in-memory), migrating if configured
//	3. Build the snapshot cache (Redis or in-process)
//	4. Assemble the license engine and its HTTP handlers
//	5. Mount the router with the middleware chain and create the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Run serves until ctx is cancelled, then drains in-flight requests and
// releases the store, cache and telemetry providers. Initialization errors
// are returned to the caller; the package never exits the process.
package app
