//go:build !race

package monitor_test

import "testing"

func skipRace(testing.TB) {}
