// Package platform classifies OS-specific filesystem errors.
package platform
