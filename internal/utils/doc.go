// Package utils provides general-purpose utility functions for vpnshift.
//
// This package contains small helpers used across the application:
//
//   - IP utilities: pick IPv4 addresses, infer first-host addresses,
//     recognize carrier-grade NAT ranges
//   - Path utilities: resolve paths relative to a base directory
//   - File utilities: safe file closing
//
// The utilities in this package are designed to be simple, focused, and
// reusable across different parts of the application.
package utils
