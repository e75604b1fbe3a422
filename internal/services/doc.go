// Package services defines shared utilities consumed by the sync stages and
// external tool adapters.
//
// Key responsibilities:
//   - Context helpers that stamp session reference numbers, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and KindOf which turns an
//     error chain into the failure kind reported to API and CLI callers.
//
// Use these helpers when wiring new stage logic so failure classification stays
// uniform across the pipeline.
package services
