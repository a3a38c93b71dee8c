// Package model holds the data types shared by the hydroplante worker.
//
// This package contains type definitions and pure helpers only. Every other
// internal package imports model; model imports nothing internal.
//
// Key constraints:
//   - Request identity is method + URL, compared by exact string equality
//   - Manifest paths are NFC-normalised once, at load time
//   - Body digests use domain-separated SHA-256
package model
