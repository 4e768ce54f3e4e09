package giveaway

// EntrantRegistry は1イベント分の参加者集合とメッセージ数カウンタ。
// 排他制御は所有する Event が行う。
type EntrantRegistry struct {
	ids      []int64
	index    map[int64]struct{}
	activity map[int64]int
}

func NewEntrantRegistry() *EntrantRegistry {
	return &EntrantRegistry{
		ids:      []int64{},
		index:    make(map[int64]struct{}),
		activity: make(map[int64]int),
	}
}

// TryAdd applies an entry attempt that was already evaluated.
// Ineligible attempts change nothing. Re-entering removes the entrant (toggle off).
// Returns true only when the entrant was added.
func (r *EntrantRegistry) TryAdd(id int64, result EvaluationResult) bool {
	if !result.Eligible {
		return false
	}
	if r.Contains(id) {
		r.Remove(id)
		return false
	}
	r.add(id)
	return true
}

func (r *EntrantRegistry) add(id int64) {
	if r.Contains(id) {
		return
	}
	r.index[id] = struct{}{}
	r.ids = append(r.ids, id)
}

// Remove は参加者を削除する。存在しなかった場合は false
func (r *EntrantRegistry) Remove(id int64) bool {
	if !r.Contains(id) {
		return false
	}
	delete(r.index, id)
	for i, existing := range r.ids {
		if existing == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}
	return true
}

func (r *EntrantRegistry) Contains(id int64) bool {
	_, ok := r.index[id]
	return ok
}

func (r *EntrantRegistry) Len() int {
	return len(r.ids)
}

// Snapshot returns entrants in registration order.
func (r *EntrantRegistry) Snapshot() []int64 {
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}

// RecordActivity increments the message counter and returns the new value.
// Rate limiting happens before this is called.
func (r *EntrantRegistry) RecordActivity(id int64) int {
	r.activity[id]++
	return r.activity[id]
}

func (r *EntrantRegistry) MessageCount(id int64) int {
	return r.activity[id]
}

func (r *EntrantRegistry) messageCounts() map[int64]int {
	out := make(map[int64]int, len(r.activity))
	for id, n := range r.activity {
		out[id] = n
	}
	return out
}
