// Package compat bridges the legacy per-user subscription model and the
// per-workspace model while accounts migrate.
//
// Shim implements entitlement.Loader: it answers from the principal's
// workspace when that workspace has billing state and from the user's own
// legacy subscription otherwise, tagging the snapshot with the owner that
// answered. LegacyAliases keeps old API clients working by copying current
// response fields to their legacy names.
package compat
