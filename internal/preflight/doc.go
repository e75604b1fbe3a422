// Package preflight provides readiness checks for the programs and
// filesystem paths avsync depends on.
//
// These checks run in two contexts:
//   - `avsync serve` and `avsync sync` call RunAll before accepting work and
//     refuse to start when a required check fails.
//   - The CLI "avsync deps" command renders every Result as a table.
//
// The notification check only runs when an ntfy topic is configured.
package preflight
