package domain

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// offerView holds one side of the book as a price-time ordered list plus an
// index by offer id. Ordering is (price asc, timeout asc, id) so that the
// earliest-expiring offer wins among equally priced ones.
type offerView struct {
	entries []*Offer
	byID    map[uuid.UUID]*Offer
}

func newOfferView() *offerView {
	return &offerView{
		entries: make([]*Offer, 0),
		byID:    make(map[uuid.UUID]*Offer),
	}
}

func offerLess(a, b *Offer) bool {
	if cmp := a.Price().Cmp(b.Price()); cmp != 0 {
		return cmp < 0
	}
	if a.Timeout != b.Timeout {
		return a.Timeout < b.Timeout
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (v *offerView) add(offer *Offer) {
	i := sort.Search(len(v.entries), func(i int) bool {
		return !offerLess(v.entries[i], offer)
	})
	v.entries = append(v.entries, nil)
	copy(v.entries[i+1:], v.entries[i:])
	v.entries[i] = offer
	v.byID[offer.ID] = offer
}

func (v *offerView) remove(id uuid.UUID) bool {
	offer, ok := v.byID[id]
	if !ok {
		return false
	}
	i := sort.Search(len(v.entries), func(i int) bool {
		return !offerLess(v.entries[i], offer)
	})
	for ; i < len(v.entries); i++ {
		if v.entries[i].ID == id {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			break
		}
	}
	delete(v.byID, id)
	return true
}

// OfferBook is the dual-sided price-ordered container of open offers for one
// market. It is safe for concurrent use.
type OfferBook struct {
	lock  *sync.RWMutex
	buys  *offerView
	sells *offerView
}

// NewOfferBook returns an empty book.
func NewOfferBook() *OfferBook {
	return &OfferBook{
		lock:  &sync.RWMutex{},
		buys:  newOfferView(),
		sells: newOfferView(),
	}
}

// Insert adds a validated offer to the side it belongs to. Inserting an id
// that already rests in the book replaces the previous entry, so redelivered
// offer broadcasts cannot pile up ghost entries.
func (b *OfferBook) Insert(offer *Offer) error {
	if err := offer.Validate(); err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.buys.remove(offer.ID)
	b.sells.remove(offer.ID)
	b.viewFor(offer.Side).add(offer)
	return nil
}

// Remove deletes the offer with the given id from the book. Removing an
// unknown id is a no-op, the returned flag tells whether anything was
// actually removed.
func (b *OfferBook) Remove(id uuid.UUID) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.buys.remove(id) {
		return true
	}
	return b.sells.remove(id)
}

// Get returns the resting offer with the given id, nil if absent.
func (b *OfferBook) Get(id uuid.UUID) *Offer {
	b.lock.RLock()
	defer b.lock.RUnlock()

	if offer, ok := b.buys.byID[id]; ok {
		return offer
	}
	return b.sells.byID[id]
}

// Contains returns whether an offer with the given id rests in the book.
func (b *OfferBook) Contains(id uuid.UUID) bool {
	return b.Get(id) != nil
}

// OffersEligible returns the offers on the given side whose price satisfies
// the given limit: sells priced at or below the limit, buys priced at or
// above. The result preserves (price, earliest-timeout-first) ordering.
func (b *OfferBook) OffersEligible(
	side OfferSide, priceLimit decimal.Decimal,
) []*Offer {
	b.lock.RLock()
	defer b.lock.RUnlock()

	view := b.viewFor(side)
	eligible := make([]*Offer, 0, len(view.entries))
	for _, offer := range view.entries {
		cmp := offer.Price().Cmp(priceLimit)
		if side == SideSell && cmp > 0 {
			break
		}
		if side == SideBuy && cmp < 0 {
			continue
		}
		eligible = append(eligible, offer)
	}
	return eligible
}

// Offers returns all offers resting on the given side in price-time order.
func (b *OfferBook) Offers(side OfferSide) []*Offer {
	b.lock.RLock()
	defer b.lock.RUnlock()

	view := b.viewFor(side)
	offers := make([]*Offer, len(view.entries))
	copy(offers, view.entries)
	return offers
}

// Len returns the total number of resting offers.
func (b *OfferBook) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.buys.entries) + len(b.sells.entries)
}

func (b *OfferBook) viewFor(side OfferSide) *offerView {
	if side == SideBuy {
		return b.buys
	}
	return b.sells
}
