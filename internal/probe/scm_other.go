//go:build !windows

package probe

import "errors"

func windowsServiceStatus(name string) (Status, error) {
	return StatusUnknown, errors.New("service control manager is only available on windows")
}
