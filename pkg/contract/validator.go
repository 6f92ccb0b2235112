package contract

import (
	"fmt"
	"strings"
)

// 校验库函数（纯函数，无 I/O）：
// - ValidateSegments: 对账后置条件，段数与项数一致且每段非空；
// - ValidateSequence: 装配前置条件，ID 严格升序且全部已写回。

// ValidateSegments 校验 segments 与 items 一一对应。
func ValidateSegments(items []*WorkItem, segments []string) error {
	if len(segments) != len(items) {
		return fmt.Errorf("expected %d segments, got %d: %w", len(items), len(segments), ErrSegmentMismatch)
	}
	for i, s := range segments {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("segment %d (item %d) empty: %w", i, items[i].ID, ErrInvariantViolation)
		}
	}
	return nil
}

// ValidateSequence 校验工作项 ID 严格升序且均已写回结果。
func ValidateSequence(items []*WorkItem) error {
	for i, it := range items {
		if i > 0 && !(it.ID > items[i-1].ID) {
			return fmt.Errorf("item %d after %d: %w", it.ID, items[i-1].ID, ErrSeqInvalid)
		}
		if _, ok := it.Resolved(); !ok {
			return fmt.Errorf("item %d unresolved: %w", it.ID, ErrInvariantViolation)
		}
	}
	return nil
}
