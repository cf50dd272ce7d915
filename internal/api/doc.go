// Package api provides the read-only HTTP status API served while the
// takeover is active.
//
// Endpoints:
//   - GET /api/v1/status: takeover lifecycle state plus the persisted snapshot
//   - GET /api/v1/health: drift monitor state and last check results
//   - GET /api/v1/inspect: live verification of every applied element
//
// All responses wrap their payload in a "data" field:
//
//	{
//	  "data": { /* response payload */ }
//	}
//
// Error responses use the following format:
//
//	{
//	  "error": {
//	    "code": "error_code",
//	    "message": "Human-readable error message"
//	  }
//	}
//
// The API never mutates network state. Access is restricted to private
// subnets so the server can bind beyond loopback on gateway installs.
package api
