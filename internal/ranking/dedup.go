package ranking

import (
	"fmt"
	"strings"

	"github.com/sells-group/skuboard/internal/model"
)

// DedupKey identifies an offer within a SKU and country: merchant, price to
// the cent, currency and availability, plus a short hash of the canonical
// listing URL when there is one.
func DedupKey(merchant string, price float64, currency string, availability model.Availability, link string) string {
	if availability == "" {
		availability = model.AvailabilityUnknown
	}
	key := fmt.Sprintf("%s:%.2f:%s:%s",
		model.NormalizeMerchantName(merchant), price, strings.ToUpper(currency), availability)
	if h := model.URLHash(link); h != "" {
		key += ":" + h[:8]
	}
	return key
}
