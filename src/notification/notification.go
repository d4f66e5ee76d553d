package notification

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxMessageRunes = 500

// ShowBlockingError shows a modal error dialog where the platform has one and
// always logs the message. It returns once the user dismisses the dialog.
func ShowBlockingError(title, message string) {
	message = truncate(strings.TrimSpace(message), maxMessageRunes)
	zap.L().Error("notification: "+title, zap.String("message", message))
	if err := showMessageBox(title, message, iconError); err != nil {
		zap.L().Warn("notification: dialog failed", zap.Error(err))
	}
}

// ShowInfo is the non-error variant used for one-off confirmations.
func ShowInfo(title, message string) {
	message = truncate(strings.TrimSpace(message), maxMessageRunes)
	zap.L().Info("notification: "+title, zap.String("message", message))
	if err := showMessageBox(title, message, iconInformation); err != nil {
		zap.L().Warn("notification: dialog failed", zap.Error(err))
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
