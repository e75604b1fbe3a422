// Package staging reclaims disk space left behind by sync sessions.
//
// Sessions that finish normally clean up after themselves, but a crash or a
// killed detector can leave temp copies, staged uploads, and numbered SyncNet
// work directories behind. CleanStale removes such leftovers once they are
// older than the configured age.
package staging
