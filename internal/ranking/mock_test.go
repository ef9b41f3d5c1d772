package ranking

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// fakeFX serves fixed rates in currency units per USD.
type fakeFX map[string]float64

func (f fakeFX) Rate(_ context.Context, currency string) (float64, error) {
	r, ok := f[strings.ToUpper(currency)]
	if !ok {
		return 0, eris.Errorf("no rate for %s", currency)
	}
	return r, nil
}
