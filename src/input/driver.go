package input

import "github.com/go-vgo/robotgo"

// Driver is the OS-level mouse and keyboard surface.
type Driver interface {
	Location() (x, y int)
	Move(x, y int)
	Click()
	DoubleClick()
	KeyTap(key string, modifiers ...string) error
}

// RobotDriver drives the real desktop through robotgo.
type RobotDriver struct{}

func (RobotDriver) Location() (int, int) { return robotgo.Location() }

func (RobotDriver) Move(x, y int) { robotgo.Move(x, y) }

func (RobotDriver) Click() { robotgo.Click("left") }

func (RobotDriver) DoubleClick() { robotgo.Click("left", true) }

func (RobotDriver) KeyTap(key string, modifiers ...string) error {
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}
