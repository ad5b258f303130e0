// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Program name and version, shown by "mzfame --version"
const progName = "mzFAME"

var progVersion = `Unknown`

var ErrRangeSpec = errors.New("invalid range specified")

var rangeRe = regexp.MustCompile(`^\s*(-?\d*):(-?\d*)\s*$`)

// Parse string like "-12:6" into 2 values, -12 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned.
// An empty string selects both defaults.
func parseIntRange(r string, min int, max int) (int, int, error) {
	if r == "" {
		return min, max, nil
	}
	m := rangeRe.FindStringSubmatch(r)
	if m == nil {
		return min, max, fmt.Errorf("%w: %q", ErrRangeSpec, r)
	}
	minOut := min
	maxOut := max
	var err error
	if m[1] != "" {
		if minOut, err = strconv.Atoi(m[1]); err != nil {
			return min, max, fmt.Errorf("%w: %v", ErrRangeSpec, err)
		}
		if minOut < min {
			minOut = min
		}
	}
	if m[2] != "" {
		if maxOut, err = strconv.Atoi(m[2]); err != nil {
			return min, max, fmt.Errorf("%w: %v", ErrRangeSpec, err)
		}
		if maxOut > max {
			maxOut = max
		}
	}
	if minOut > maxOut {
		return maxOut, maxOut, ErrRangeSpec
	}
	return minOut, maxOut, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
