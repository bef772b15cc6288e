package domain

import (
	"encoding/binary"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusLocked   MarketStatus = "locked"
	MarketStatusResolved MarketStatus = "resolved"
)

// Outcome identifies one side of a binary market. OutcomeUnresolved is the
// sentinel carried by a market until it is resolved.
type Outcome int8

const (
	OutcomeUnresolved Outcome = -1
	OutcomeYes        Outcome = 0
	OutcomeNo         Outcome = 1
)

// Valid reports whether o is a tradable outcome index.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Other returns the opposite side of a valid outcome.
func (o Outcome) Other() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return "unresolved"
	}
}

// SecondsPerDay is the width of a settlement day bucket.
const SecondsPerDay = 86_400

// DayBucket returns the settlement-day bucket number for a settle time.
func DayBucket(settleTime time.Time) int64 {
	return settleTime.Unix() / SecondsPerDay
}

// Market is a binary-outcome prediction market priced by a constant-product
// pool of outcome-claim reserves. Amounts (reserves, volume, collateral,
// shares) are unsigned 6-decimal fixed-point integers.
type Market struct {
	ID            string
	TemplateTag   string
	Creator       string
	FeedRef       string
	Params        []byte
	SettleTime    time.Time
	CreatedAt     time.Time
	FeeBps        uint16
	CreatorFeeBps uint16
	Status        MarketStatus
	Winner        Outcome
	ReserveYes    uint64
	ReserveNo     uint64
	Volume        uint64
}

// Reserve returns the reserve for the given side.
func (m *Market) Reserve(o Outcome) uint64 {
	if o == OutcomeYes {
		return m.ReserveYes
	}
	return m.ReserveNo
}

// SetReserve overwrites the reserve for the given side.
func (m *Market) SetReserve(o Outcome, v uint64) {
	if o == OutcomeYes {
		m.ReserveYes = v
	} else {
		m.ReserveNo = v
	}
}

// EncodeThresholdParams encodes a price-threshold template parameter as the
// market Params payload.
func EncodeThresholdParams(threshold int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(threshold))
	return buf
}

// DecodeThresholdParams decodes a Params payload written by
// EncodeThresholdParams.
func DecodeThresholdParams(params []byte) (int64, error) {
	if len(params) != 8 {
		return 0, ErrInvalidParams
	}
	return int64(binary.BigEndian.Uint64(params)), nil
}
