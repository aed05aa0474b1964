package economy

import (
	"fmt"
	"math"
)

// GoodNames builds the good ID → display name map for a generated market,
// with zero-padded indices so lexicographic and numeric order agree.
func GoodNames(nbGoods int) map[string]string {
	digits := idDigits(nbGoods)
	names := make(map[string]string, nbGoods)
	for j := 0; j < nbGoods; j++ {
		id := fmt.Sprintf("tac_good_%0*d", digits, j)
		names[id] = fmt.Sprintf("Good %d", j)
	}
	return names
}

func idDigits(n int) int {
	if n <= 10 {
		return 1
	}
	return int(math.Ceil(math.Log10(float64(n))))
}
