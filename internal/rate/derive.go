package rate

import (
	"fmt"
	"strings"

	"parabatch/pkg/contract"
)

// KeyFor 返回账户对应的限流分组键。
func KeyFor(acc contract.AccountKey) LimitKey { return LimitKey(acc) }

// DeriveLimits 将配置中的 "<acc>": {rpm, burst} 转为闸门配置。
// 仅接受已知账户名（大小写不敏感）；负值视为非法输入。
func DeriveLimits(in map[string]Limits) (map[LimitKey]Limits, error) {
	out := make(map[LimitKey]Limits, len(in))
	for name, lim := range in {
		acc := contract.AccountKey(strings.ToLower(strings.TrimSpace(name)))
		if !acc.Valid() {
			return nil, fmt.Errorf("rate: unknown account %q: %w", name, contract.ErrInvalidInput)
		}
		if lim.RPM < 0 || lim.Burst < 0 {
			return nil, fmt.Errorf("rate: %s rpm/burst must be >= 0: %w", acc, contract.ErrInvalidInput)
		}
		out[KeyFor(acc)] = lim
	}
	return out, nil
}
