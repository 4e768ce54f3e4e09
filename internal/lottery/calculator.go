package lottery

const defaultWeight = 1

// MaxWeight は 1 人あたりの抽選口数の上限。プールは口数分の要素を持つため無制限にはしない
const MaxWeight = 100

// CalculateWeight は保有ロールに一致する倍率ルールを合算して抽選口数を返す。
// 一致するルールがなければ 1 口。limit > 0 の場合は上限を適用し、いずれの場合も MaxWeight を超えない。
func CalculateWeight(roles []int64, multipliers map[int64]int, limit int) int {
	if len(roles) == 0 || len(multipliers) == 0 {
		return defaultWeight
	}
	if limit <= 0 || limit > MaxWeight {
		limit = MaxWeight
	}

	total := 0
	matched := false
	seen := make(map[int64]struct{}, len(roles))
	for _, role := range roles {
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}

		value, ok := multipliers[role]
		if !ok || value <= 0 {
			continue
		}
		matched = true
		// 加算前に打ち切るので巨大な倍率でも桁あふれしない
		if value >= limit || total >= limit-value {
			return limit
		}
		total += value
	}

	if !matched || total < defaultWeight {
		return defaultWeight
	}
	return total
}

// WeightFunc adapts a per-entrant role table into the weight function used by Select.
func WeightFunc(roles map[int64][]int64, multipliers map[int64]int, limit int) func(int64) int {
	return func(id int64) int {
		return CalculateWeight(roles[id], multipliers, limit)
	}
}
