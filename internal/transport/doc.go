// Package transport is the narrow adapter between the sync pipeline and the
// remote project-management backend.
//
// The Client interface exposes three calls: create the remote entity, upload
// one media part, and confirm completion. Every failure is classified as
// transient (retry with backoff) or permanent (manual retry after caller-side
// correction) via sentinel wrapping, so the pipeline never inspects HTTP
// details itself.
package transport
