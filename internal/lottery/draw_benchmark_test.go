package lottery

import "testing"

func benchmarkDraw(b *testing.B, entrantCount, winners int) {
	entrants := make([]int64, entrantCount)
	for i := range entrants {
		entrants[i] = int64(i + 1)
	}
	weightFn := func(id int64) int { return int(id%3) + 1 }

	originalRandom := drawRandomInt
	drawRandomInt = func(max int) (int, error) {
		if max <= 0 {
			return 0, errInvalidPoolSize
		}
		return max - 1, nil
	}
	b.Cleanup(func() {
		drawRandomInt = originalRandom
	})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		result, err := Draw(entrants, weightFn, DrawOptions{Count: winners})
		if err != nil {
			b.Fatalf("Draw failed: %v", err)
		}
		if len(result.Winners) != winners {
			b.Fatalf("unexpected winner count: %d", len(result.Winners))
		}
	}
}

func BenchmarkDraw_100(b *testing.B) {
	benchmarkDraw(b, 100, 3)
}

func BenchmarkDraw_500(b *testing.B) {
	benchmarkDraw(b, 500, 10)
}
