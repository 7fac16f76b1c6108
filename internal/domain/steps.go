package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseStepNum splits a dotted step number such as "1.10" into its numeric
// parts.
func ParseStepNum(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("step_num is required")
	}
	parts := strings.Split(raw, ".")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("step_num %q is not a dotted number", raw)
		}
		out = append(out, n)
	}
	return out, nil
}

// CompareStepNum orders step numbers as numeric tuples. Unparseable values
// sort after valid ones.
func CompareStepNum(a, b string) int {
	pa, errA := ParseStepNum(a)
	pb, errB := ParseStepNum(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return CompareStepNum(steps[i].StepNum, steps[j].StepNum) < 0
	})
}
