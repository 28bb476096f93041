package controller

import (
	"strconv"
)

func (c controller) generateTimeBasedId() string {
	return strconv.FormatInt(c.clock.Now().UnixNano(), 36)
}
