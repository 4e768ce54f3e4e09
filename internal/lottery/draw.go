package lottery

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

var errInvalidPoolSize = errors.New("invalid pool size")

// EntrantDetail は抽選計算結果の詳細。
type EntrantDetail struct {
	ID     int64 `json:"id"`
	Weight int   `json:"weight"`
}

// DrawOptions は抽選実行時のオプション。
type DrawOptions struct {
	Count int
	// Unique draws without replacement. The default draws independent trials,
	// so one entrant may win several times.
	Unique bool
}

// DrawResult は抽選結果。
type DrawResult struct {
	Winners       []int64
	TotalEntrants int
	TotalWeight   int
	Details       []EntrantDetail
}

// WinnerCount is one display row of a winner list, e.g. "User x2".
type WinnerCount struct {
	ID    int64 `json:"id"`
	Count int   `json:"count"`
}

var drawRandomInt = secureRandomInt

// Select draws count winners from entrants weighted by weightFn.
// An empty entrant list or a zero count yields no winners and no error.
func Select(entrants []int64, weightFn func(int64) int, count int) ([]int64, error) {
	result, err := Draw(entrants, weightFn, DrawOptions{Count: count})
	if err != nil {
		return nil, err
	}
	return result.Winners, nil
}

// Draw builds the weighted pool by repeating each entrant weight times, shuffles it once,
// then picks uniformly from the pool for each winner slot.
func Draw(entrants []int64, weightFn func(int64) int, options DrawOptions) (*DrawResult, error) {
	pool, details := buildPool(entrants, weightFn)
	result := &DrawResult{
		Winners:       []int64{},
		TotalEntrants: len(entrants),
		TotalWeight:   len(pool),
		Details:       details,
	}

	if len(pool) == 0 || options.Count <= 0 {
		return result, nil
	}

	if err := shuffle(pool); err != nil {
		return nil, fmt.Errorf("failed to shuffle pool: %w", err)
	}

	for i := 0; i < options.Count && len(pool) > 0; i++ {
		picked, err := drawRandomInt(len(pool))
		if err != nil {
			return nil, fmt.Errorf("failed to pick random entry: %w", err)
		}
		winner := pool[picked]
		result.Winners = append(result.Winners, winner)

		if options.Unique {
			pool = removeAll(pool, winner)
		}
	}

	return result, nil
}

// CountWinners は当選者リストを表示用に集計する（出現順を維持）。
func CountWinners(winners []int64) []WinnerCount {
	counts := make([]WinnerCount, 0, len(winners))
	index := make(map[int64]int, len(winners))
	for _, id := range winners {
		if i, ok := index[id]; ok {
			counts[i].Count++
			continue
		}
		index[id] = len(counts)
		counts = append(counts, WinnerCount{ID: id, Count: 1})
	}
	return counts
}

func buildPool(entrants []int64, weightFn func(int64) int) ([]int64, []EntrantDetail) {
	details := make([]EntrantDetail, 0, len(entrants))
	pool := make([]int64, 0, len(entrants))

	for _, id := range entrants {
		weight := defaultWeight
		if weightFn != nil {
			weight = weightFn(id)
		}
		if weight < defaultWeight {
			weight = defaultWeight
		}
		if weight > MaxWeight {
			weight = MaxWeight
		}

		details = append(details, EntrantDetail{ID: id, Weight: weight})
		for n := 0; n < weight; n++ {
			pool = append(pool, id)
		}
	}

	return pool, details
}

func shuffle(pool []int64) error {
	for i := len(pool) - 1; i > 0; i-- {
		j, err := drawRandomInt(i + 1)
		if err != nil {
			return err
		}
		pool[i], pool[j] = pool[j], pool[i]
	}
	return nil
}

func removeAll(pool []int64, id int64) []int64 {
	kept := pool[:0]
	for _, entry := range pool {
		if entry != id {
			kept = append(kept, entry)
		}
	}
	return kept
}

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errInvalidPoolSize
	}

	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
