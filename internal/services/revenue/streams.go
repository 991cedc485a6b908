package revenue

import (
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/models"
)

// Table describes where a stream's events are stored
type Table struct {
	Stream            models.Stream
	BeneficiaryColumn string
	AmountColumn      string
	newModel          func() interface{}
}

// Model returns a fresh pointer to the row type for gorm's Model and Delete.
// gorm may write to it, so it is never shared.
func (t Table) Model() interface{} {
	return t.newModel()
}

var tables = map[models.Stream]Table{
	models.StreamReferral: {models.StreamReferral, "referrer_id", "commission",
		func() interface{} { return &models.Referral{} }},
	models.StreamTip: {models.StreamTip, "creator_id", "amount",
		func() interface{} { return &models.Tip{} }},
	models.StreamSubscription: {models.StreamSubscription, "creator_id", "price",
		func() interface{} { return &models.Subscription{} }},
	models.StreamAffiliate: {models.StreamAffiliate, "user_id", "amount",
		func() interface{} { return &models.AffiliateEarning{} }},
	models.StreamShop: {models.StreamShop, "seller_id", "amount",
		func() interface{} { return &models.ShopSale{} }},
	models.StreamBrand: {models.StreamBrand, "creator_id", "amount",
		func() interface{} { return &models.BrandSpend{} }},
}

// TableFor returns the storage layout of stream
func TableFor(stream models.Stream) (Table, error) {
	t, ok := tables[stream]
	if !ok {
		return Table{}, apperrors.NewValidationError("stream", fmt.Sprintf("unknown stream %q", stream))
	}
	return t, nil
}
