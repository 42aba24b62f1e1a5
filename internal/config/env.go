//go:build !dev

package config

// Production builds read the real environment only.
func loadDotEnv() error {
	return nil
}
