package domain

import "sort"

// MatchLimit walks the book and selects the resting offers an incoming limit
// order should take. Only offers on the opposite side whose price satisfies
// the order's limit are eligible. Among eligible offers, larger offers are
// consumed first to minimize the number of swap legs; ties break on earlier
// timeout, then id, for determinism. Offers are taken whole: a resting offer
// is never partially consumed, so an offer bigger than what is left to fill
// is skipped. The returned remainder is the order amount still unfilled.
func MatchLimit(book *OfferBook, order *LimitOrder) ([]*Offer, uint64) {
	eligible := book.OffersEligible(order.Side.Opposite(), order.Price)

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].BaseAmount != eligible[j].BaseAmount {
			return eligible[i].BaseAmount > eligible[j].BaseAmount
		}
		return offerLess(eligible[i], eligible[j])
	})

	taken := make([]*Offer, 0, len(eligible))
	remainder := order.Amount
	for _, offer := range eligible {
		if remainder == 0 {
			break
		}
		if offer.BaseAmount > remainder {
			continue
		}
		taken = append(taken, offer)
		remainder -= offer.BaseAmount
	}
	return taken, remainder
}
