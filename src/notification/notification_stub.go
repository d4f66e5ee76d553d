//go:build !windows

package notification

const (
	iconError       = 0x10
	iconInformation = 0x40
)

// Other platforms only get the log line.
func showMessageBox(title, message string, icon uint32) error {
	return nil
}
