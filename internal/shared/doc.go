// Package shared holds helpers used across the license service that belong to no
// single layer. Its testutil subpackage carries log capture and fixtures for tests.
package shared
