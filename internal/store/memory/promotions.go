package memory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

func (s *Store) DiscountCodes() []domain.DiscountCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.discountCodes, cloneDiscountCode)
}

func (s *Store) AddDiscountCode(code domain.DiscountCode) (domain.DiscountCode, error) {
	var err error
	s.update(func() []store.Collection {
		code.Code = normalizeCode(code.Code)
		if code.Code == "" || !validPromotion(code.Type, code.Value) {
			err = store.ErrInvalidInput
			return nil
		}
		if slices.ContainsFunc(s.discountCodes, func(c domain.DiscountCode) bool { return c.Code == code.Code }) {
			err = fmt.Errorf("%w: discount code %s already exists", store.ErrInvalidInput, code.Code)
			return nil
		}
		if code.ID == "" {
			code.ID = xid.New("dc")
		}
		code = cloneDiscountCode(code)
		s.discountCodes = append(s.discountCodes, code)
		return []store.Collection{store.DiscountCodes}
	})
	return cloneDiscountCode(code), err
}

func (s *Store) DeleteDiscountCode(id string) {
	s.update(func() []store.Collection {
		before := len(s.discountCodes)
		s.discountCodes = slices.DeleteFunc(s.discountCodes, func(c domain.DiscountCode) bool { return c.ID == id })
		if len(s.discountCodes) == before {
			return nil
		}
		return []store.Collection{store.DiscountCodes}
	})
}

// FindDiscountCode returns the active, in-window code matching the token
// case-insensitively.
func (s *Store) FindDiscountCode(code string) (domain.DiscountCode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dc, ok := s.validDiscountCodeLocked(normalizeCode(code))
	if !ok {
		return domain.DiscountCode{}, false
	}
	return cloneDiscountCode(dc), true
}

func (s *Store) IncrementDiscountCodeUsage(code string) {
	s.update(func() []store.Collection {
		if !s.incrementDiscountCodeLocked(normalizeCode(code)) {
			return nil
		}
		return []store.Collection{store.DiscountCodes}
	})
}

func (s *Store) validDiscountCodeLocked(code string) (domain.DiscountCode, bool) {
	now := s.now()
	for _, dc := range s.discountCodes {
		if dc.Code == code && dc.Active && inWindow(now, dc.StartDate, dc.EndDate) {
			return dc, true
		}
	}
	return domain.DiscountCode{}, false
}

func (s *Store) incrementDiscountCodeLocked(code string) bool {
	for i := range s.discountCodes {
		if s.discountCodes[i].Code == code {
			s.discountCodes[i].UsageCount++
			return true
		}
	}
	return false
}

func (s *Store) Offers() []domain.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.offers, cloneOffer)
}

func (s *Store) AddOffer(offer domain.Offer) (domain.Offer, error) {
	var err error
	s.update(func() []store.Collection {
		offer.Name = strings.TrimSpace(offer.Name)
		if offer.Name == "" || len(offer.TargetProductIDs) == 0 || !validPromotion(offer.Type, offer.Value) {
			err = store.ErrInvalidInput
			return nil
		}
		if offer.ID == "" {
			offer.ID = xid.New("ofr")
		}
		offer = cloneOffer(offer)
		s.offers = append(s.offers, offer)
		return []store.Collection{store.Offers}
	})
	return cloneOffer(offer), err
}

func (s *Store) DeleteOffer(id string) {
	s.update(func() []store.Collection {
		before := len(s.offers)
		s.offers = slices.DeleteFunc(s.offers, func(o domain.Offer) bool { return o.ID == id })
		if len(s.offers) == before {
			return nil
		}
		return []store.Collection{store.Offers}
	})
}

func (s *Store) ToggleOffer(id string) (domain.Offer, error) {
	var (
		offer domain.Offer
		err   = store.ErrNotFound
	)
	s.update(func() []store.Collection {
		for i := range s.offers {
			if s.offers[i].ID == id {
				s.offers[i].IsActive = !s.offers[i].IsActive
				offer = cloneOffer(s.offers[i])
				err = nil
				return []store.Collection{store.Offers}
			}
		}
		return nil
	})
	return offer, err
}

func (s *Store) IncrementOfferUsage(id string) {
	s.update(func() []store.Collection {
		for i := range s.offers {
			if s.offers[i].ID == id {
				s.offers[i].UsageCount++
				return []store.Collection{store.Offers}
			}
		}
		return nil
	})
}

// ActiveOfferFor returns the first active, in-window offer targeting the
// product.
func (s *Store) ActiveOfferFor(productID string) (domain.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	for _, o := range s.offers {
		if o.IsActive && inWindow(now, o.StartDate, o.EndDate) && slices.Contains(o.TargetProductIDs, productID) {
			return cloneOffer(o), true
		}
	}
	return domain.Offer{}, false
}

// OfferPrice is the unit price after the offer, floored at zero.
func OfferPrice(price decimal.Decimal, offer domain.Offer) decimal.Decimal {
	var reduced decimal.Decimal
	if offer.Type == domain.DiscountPercentage {
		reduced = price.Sub(price.Mul(offer.Value).Div(hundred))
	} else {
		reduced = price.Sub(offer.Value)
	}
	if reduced.IsNegative() {
		return decimal.Zero
	}
	return reduced.Round(2)
}

func validPromotion(kind string, value decimal.Decimal) bool {
	switch kind {
	case domain.DiscountPercentage:
		return value.IsPositive() && value.LessThanOrEqual(hundred)
	case domain.DiscountFixed:
		return value.IsPositive()
	}
	return false
}
