// Package networking wraps the Linux networking primitives vpnshift mutates.
//
// This package provides thin typed wrappers around netlink routes and links,
// iptables forwarding rules, and /proc/sys sysctl keys. Every wrapper exposes
// idempotent Add/Del variants (AddIfNotExists, DelIfExists) so that callers
// can re-apply configuration without tracking whether a previous run already
// did, and presence checks (IsExists, CheckRulesExists) used by self-check.
//
// The wrappers log every mutation at debug level and never decide policy;
// which routes, rules, and sysctls to touch is the takeover package's job.
package networking
