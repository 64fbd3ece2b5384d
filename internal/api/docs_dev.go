//go:build openapi_dev

package api

import "os"

// openAPILoad rereads the document on every request while editing it.
func openAPILoad() ([]byte, error) { return os.ReadFile("internal/api/openapi.yaml") }
