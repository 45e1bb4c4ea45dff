package features

import (
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// Collect feature names, in model column order.
const (
	CollectIsCollect    = "is_collect"
	CollectPayeeNew     = "payee_new"
	CollectAmountBucket = "amount_z_bucket"
	CollectKeywordHits  = "merchant_keyword_hits"
	CollectOffHours     = "off_hours"
)

var collectNames = []string{
	CollectIsCollect, CollectPayeeNew, CollectAmountBucket,
	CollectKeywordHits, CollectOffHours,
}

// ExtractCollect derives the collect-fraud vector. The timestamp comes from
// the caller so scoring stays deterministic under test.
func ExtractCollect(req *models.TransactionRequest, cfg *configs.ScreeningConfig, now time.Time) Vector {
	hour := now.Hour()
	weekday := now.Weekday()
	offHours := hour < 6 || hour >= 23 || weekday == time.Saturday || weekday == time.Sunday

	return Vector{
		Names: collectNames,
		Values: []float64{
			boolFeature(req.TransactionType == models.TypeCollect),
			boolFeature(req.PayeeNew == 1),
			AmountBucket(req.Amount),
			float64(LexiconHits(req.Message, cfg.MerchantKeywords)),
			boolFeature(offHours),
		},
	}
}
