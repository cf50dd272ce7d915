package api

import (
	"github.com/vpnshift/vpnshift/internal/health"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// DataResponse wraps successful responses with a "data" field.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// VersionInfo contains build version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// StatusResponse returns the takeover lifecycle state.
type StatusResponse struct {
	Version  VersionInfo              `json:"version"`
	Takeover *takeover.TakeoverStatus `json:"takeover"`
	Health   *health.Status           `json:"health,omitempty"`
}

// HealthResponse returns the drift monitor state.
type HealthResponse struct {
	Monitoring bool           `json:"monitoring"`
	Status     *health.Status `json:"status,omitempty"`
}

// CheckItem is one verified takeover element.
type CheckItem struct {
	Component   string `json:"component"`
	Description string `json:"description"`
	Exists      bool   `json:"exists"`
	ShouldExist bool   `json:"should_exist"`
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
}

// InspectResponse returns the live verification of every applied element.
type InspectResponse struct {
	Healthy bool        `json:"healthy"`
	Checks  []CheckItem `json:"checks"`
}
