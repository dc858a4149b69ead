package util

import (
	"regexp"
)

var sessionIDRegex = regexp.MustCompile(`^[0-9]{9}$`)

func IsValidSessionID(s string) bool {
	return sessionIDRegex.MatchString(s)
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
