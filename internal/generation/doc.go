// Package generation defines the boundary between the application core
// and external AI providers.
package generation
