// Package log provides leveled, printf-style logging for vpnshift.
//
// Messages are prefixed with a colored level tag ([DBG], [INF], [WRN],
// [ERR]). Errors go to stderr, everything else to stdout unless
// SetForceStdErr redirects the whole stream.
package log
