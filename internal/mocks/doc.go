// Package mocks provides mock implementations of the domain interfaces.
//
// Every mock follows the same pattern: optional Func fields override the
// behavior per test, call counters record how often each method ran, and a
// small in-memory state (simulated route table, sysctl values, DNS answers)
// backs the default behavior so component tests can assert on outcomes
// without touching the kernel.
package mocks
